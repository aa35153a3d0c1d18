package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
)

// PollStatus returns just the status column for id, used by the vote engine
// to re-check liveness inside its own transaction before writing a vote, so
// a poll that closes mid-write is never credited with one after the fact.
func (s *Store) PollStatus(ctx context.Context, id int64) (poll.Status, error) {
	row := s.db.QueryRow(ctx, `SELECT status FROM polls WHERE id = $1`, id)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", pollerr.New(pollerr.KindNotFound, "poll not found")
		}
		return "", pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return poll.Status(status), nil
}

// VotesForUser returns every option index the user has currently selected on
// pollID, ordered by option_index.
func (s *Store) VotesForUser(ctx context.Context, pollID int64, userID string) ([]int, error) {
	rows, err := s.db.Query(ctx, `SELECT option_index FROM votes WHERE poll_id = $1 AND user_id = $2 ORDER BY option_index`, pollID, userID)
	if err != nil {
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// AddVote inserts (pollID, userID, optionIndex). Callers are responsible for
// enforcing the single/multiple-choice cap before calling this; AddVote
// itself is an unconditional insert.
func (s *Store) AddVote(ctx context.Context, pollID int64, userID string, optionIndex int) error {
	_, err := s.db.Exec(ctx, `INSERT INTO votes (poll_id, user_id, option_index) VALUES ($1, $2, $3)`, pollID, userID, optionIndex)
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// RemoveVote deletes a single (pollID, userID, optionIndex) row, returning
// whether a row was actually removed.
func (s *Store) RemoveVote(ctx context.Context, pollID int64, userID string, optionIndex int) (bool, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM votes WHERE poll_id = $1 AND user_id = $2 AND option_index = $3`, pollID, userID, optionIndex)
	if err != nil {
		return false, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return n > 0, nil
}

// ClearVotesForUser deletes every vote a user has cast on pollID, used when
// a single-choice voter changes their selection.
func (s *Store) ClearVotesForUser(ctx context.Context, pollID int64, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM votes WHERE poll_id = $1 AND user_id = $2`, pollID, userID)
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// Tally counts votes per option index for pollID. The returned slice is
// always len(numOptions) long, zero-filled for options with no votes.
func (s *Store) Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error) {
	counts := make([]int, numOptions)
	rows, err := s.db.Query(ctx, `SELECT option_index, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option_index`, pollID)
	if err != nil {
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	defer rows.Close()
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
		}
		if idx >= 0 && idx < numOptions {
			counts[idx] = n
		}
	}
	return counts, rows.Err()
}

// DistinctVoterCount returns how many unique users have cast at least one
// vote on pollID, used for the closing summary's total-participants line.
func (s *Store) DistinctVoterCount(ctx context.Context, pollID int64) (int, error) {
	row := s.db.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM votes WHERE poll_id = $1`, pollID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return n, nil
}

// AllVotes returns every vote recorded for pollID, used by the archive
// generator and the safeguard reconciliation loop.
func (s *Store) AllVotes(ctx context.Context, pollID int64) ([]poll.Vote, error) {
	rows, err := s.db.Query(ctx, `SELECT id, poll_id, user_id, option_index, voted_at FROM votes WHERE poll_id = $1 ORDER BY voted_at`, pollID)
	if err != nil {
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	defer rows.Close()
	var out []poll.Vote
	for rows.Next() {
		var v poll.Vote
		if err := rows.Scan(&v.ID, &v.PollID, &v.UserID, &v.OptionIndex, &v.VotedAt); err != nil {
			return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
