package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pollbot/pollbot/internal/pollerr"
	"github.com/pollbot/pollbot/internal/poll"
)

// CreatePoll inserts p with status=scheduled and message_id left null — it
// has not been posted to chat yet — and assigns the new dense id back onto p.
func (s *Store) CreatePoll(ctx context.Context, p *poll.Poll) error {
	if err := p.Validate(); err != nil {
		return pollerr.Wrap(pollerr.KindValidation, err, err.Error())
	}
	optionsJSON, err := p.MarshalOptions()
	if err != nil {
		return pollerr.Wrap(pollerr.KindUnexpected, err, "")
	}
	emojisJSON, err := p.MarshalEmojis()
	if err != nil {
		return pollerr.Wrap(pollerr.KindUnexpected, err, "")
	}

	row := s.db.QueryRow(ctx, `INSERT INTO polls (
		name, question, options_json, emojis_json, image_path, image_message_text,
		server_id, server_name, channel_id, channel_name, creator_id,
		open_time, close_time, timezone, anonymous, multiple_choice, max_choices,
		open_immediately, ping_role_enabled, ping_role_id, ping_role_name, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	RETURNING id, created_at`,
		p.Name, p.Question, optionsJSON, emojisJSON, nullableStr(p.ImagePath), nullableStr(p.ImageMessageText),
		p.ServerID, nullableStr(p.ServerName), p.ChannelID, nullableStr(p.ChannelName), p.CreatorID,
		p.OpenTime.UTC(), p.CloseTime.UTC(), p.Timezone, p.Anonymous, p.MultipleChoice, nullableMaxChoices(p),
		p.OpenImmediately, p.RolePing.Enabled, nullableStr(p.RolePing.RoleID), nullableStr(p.RolePing.RoleName), string(poll.StatusScheduled),
	)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	p.Status = poll.StatusScheduled
	return nil
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableMaxChoices(p *poll.Poll) any {
	if !p.MultipleChoice || p.MaxChoices < 1 {
		return nil
	}
	return p.MaxChoices
}

const pollColumns = `id, name, question, options_json, emojis_json, image_path, image_message_text,
	server_id, server_name, channel_id, channel_name, creator_id, message_id,
	open_time, close_time, timezone, anonymous, multiple_choice, max_choices,
	open_immediately, ping_role_enabled, ping_role_id, ping_role_name, status, created_at`

func scanPoll(row rowScanner) (*poll.Poll, error) {
	var (
		p                                        poll.Poll
		optionsJSON, emojisJSON                  string
		imagePath, imageMessage, serverName      sql.NullString
		channelName, messageID                   sql.NullString
		maxChoices                               sql.NullInt64
		pingRoleID, pingRoleName                  sql.NullString
		status                                    string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Question, &optionsJSON, &emojisJSON, &imagePath, &imageMessage,
		&p.ServerID, &serverName, &p.ChannelID, &channelName, &p.CreatorID, &messageID,
		&p.OpenTime, &p.CloseTime, &p.Timezone, &p.Anonymous, &p.MultipleChoice, &maxChoices,
		&p.OpenImmediately, &p.RolePing.Enabled, &pingRoleID, &pingRoleName, &status, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	options, emojis, err := poll.UnmarshalOptionsEmojis(optionsJSON, emojisJSON)
	if err != nil {
		return nil, err
	}
	p.Options = options
	p.Emojis = emojis
	p.ImagePath = nullString(imagePath)
	p.ImageMessageText = nullString(imageMessage)
	p.ServerName = nullString(serverName)
	p.ChannelName = nullString(channelName)
	p.MessageID = nullString(messageID)
	p.MaxChoices = nullInt(maxChoices)
	p.RolePing.RoleID = nullString(pingRoleID)
	p.RolePing.RoleName = nullString(pingRoleName)
	p.Status = poll.Status(status)
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetPoll loads a poll by id. Returns a KindNotFound *pollerr.Error if it
// doesn't exist.
func (s *Store) GetPoll(ctx context.Context, id int64) (*poll.Poll, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id)
	p, err := scanPoll(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pollerr.New(pollerr.KindNotFound, fmt.Sprintf("poll %d not found", id))
		}
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return p, nil
}

// ListPollsByStatus returns every poll in the given status, newest first.
func (s *Store) ListPollsByStatus(ctx context.Context, status poll.Status) ([]*poll.Poll, error) {
	rows, err := s.db.Query(ctx, `SELECT `+pollColumns+` FROM polls WHERE status = $1 ORDER BY id DESC`, string(status))
	if err != nil {
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	defer rows.Close()
	var out []*poll.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReloadPoll re-reads a poll's status/message_id within a caller-managed
// transaction, used by services that must observe a fresh status
// immediately before mutating: a vote write that started against a stale
// in-memory copy needs a fresh look at status before it commits, or it
// risks recording a vote against a poll that closed a moment ago.
func (s *Store) ReloadPoll(ctx context.Context, id int64) (*poll.Poll, error) {
	return s.GetPoll(ctx, id)
}

// GetPollByMessage resolves the poll a live chat message belongs to, for the
// reaction-add ingress to look up which poll (and options) a reaction event
// applies to. Returns a KindNotFound *pollerr.Error if no poll is currently
// pinned to that channel/message pair.
func (s *Store) GetPollByMessage(ctx context.Context, channelID, messageID string) (*poll.Poll, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE channel_id = $1 AND message_id = $2`, channelID, messageID)
	p, err := scanPoll(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pollerr.New(pollerr.KindNotFound, fmt.Sprintf("no poll pinned to message %s in channel %s", messageID, channelID))
		}
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return p, nil
}

// MarkOpened commits status=active and message_id in a single update, the
// final step of posting a poll's message to chat.
func (s *Store) MarkOpened(ctx context.Context, id int64, messageID string, imageMessageID string) error {
	_, err := s.db.Exec(ctx, `UPDATE polls SET status = $1, message_id = $2 WHERE id = $3`,
		string(poll.StatusActive), messageID, id)
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// MarkClosed commits status=closed first, ahead of any embed/archive work,
// so a vote event racing the close sees the new status and is rejected.
func (s *Store) MarkClosed(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE polls SET status = $1 WHERE id = $2`, string(poll.StatusClosed), id)
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// ReopenOptions controls the optional side effects of reopening a poll.
type ReopenOptions struct {
	ResetVotes  bool
	ExtendByMin int
}

// MarkReopened commits status=active, optionally extends close_time by N
// minutes from now, and optionally purges votes, all in one transaction.
func (s *Store) MarkReopened(ctx context.Context, id int64, opts ReopenOptions) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if opts.ResetVotes {
			if _, err := s.db.Exec(ctx, `DELETE FROM votes WHERE poll_id = $1`, id); err != nil {
				return err
			}
		}
		if opts.ExtendByMin > 0 {
			if _, err := s.db.Exec(ctx,
				`UPDATE polls SET status = $1, close_time = datetime('now', $2) WHERE id = $3`,
				string(poll.StatusActive), fmt.Sprintf("+%d minutes", opts.ExtendByMin), id); err != nil {
				return err
			}
			return nil
		}
		_, err := s.db.Exec(ctx, `UPDATE polls SET status = $1 WHERE id = $2`, string(poll.StatusActive), id)
		return err
	})
}

// DeletePoll removes a poll and cascades its votes (enforced by the
// ON DELETE CASCADE foreign key, per the 0001 migration).
func (s *Store) DeletePoll(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

