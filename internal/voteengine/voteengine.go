// Package voteengine is the sole writer of Vote rows (C9). Every vote path
// — a live reaction event, the safeguard's reconciliation sweep, or an
// admin tool — funnels through CollectVote, so the votes table never
// diverges from what this package decided.
package voteengine

import (
	"context"
	"strings"
	"time"

	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
)

// Action reports what CollectVote actually did, so callers can decide
// whether to clear the triggering reaction and what to tell the user.
type Action string

const (
	ActionAdded   Action = "added"
	ActionChanged Action = "changed"
	ActionRemoved Action = "removed"
	ActionIgnored Action = "ignored"
)

// Result is CollectVote's outcome.
type Result struct {
	Success bool
	Action  Action
	Reason  string // set when Action=ignored, e.g. "poll_inactive"
}

// maxConcurrentWriteRetries bounds how many times a losing writer retries
// under contention: once. A second conflict after that retry is reported
// back to the caller rather than retried again.
const maxConcurrentWriteRetries = 1

// Store is the subset of *store.Store the vote engine needs, narrowed to
// an interface covering only the calls this component actually uses.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	PollStatus(ctx context.Context, pollID int64) (poll.Status, error)
	VotesForUser(ctx context.Context, pollID int64, userID string) ([]int, error)
	AddVote(ctx context.Context, pollID int64, userID string, optionIndex int) error
	RemoveVote(ctx context.Context, pollID int64, userID string, optionIndex int) (bool, error)
	ClearVotesForUser(ctx context.Context, pollID int64, userID string) error
	DistinctVoterCount(ctx context.Context, pollID int64) (int, error)
}

// OnUpdateHook fires a role-ping when a poll's distinct-voter count crosses
// an "interesting" threshold: the first vote, and every quarter of
// projectedCapacity after that. Off by default — set via WithOnUpdateHook.
type OnUpdateHook func(p *poll.Poll, totalVoters int)

// Engine runs the bulletproof vote-collection algorithm over a Store.
type Engine struct {
	store Store

	onUpdate          OnUpdateHook
	projectedCapacity int
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithOnUpdateHook enables the role-ping "on_update" supplemented feature:
// fn is called after a successful add/change/remove whenever the poll's
// distinct-voter count is 1, or a multiple of projectedCapacity/4.
func WithOnUpdateHook(projectedCapacity int, fn OnUpdateHook) Option {
	return func(e *Engine) {
		e.onUpdate = fn
		e.projectedCapacity = projectedCapacity
	}
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CollectVote is the single entry point for recording a vote: open a
// transaction, re-read status, validate the option index, decide the
// action from the user's existing votes, and commit. p is the poll as
// known to the caller (used only for len(Options) and choice mode —
// the authoritative status comes from a fresh read inside the
// transaction, never from p, since p may be stale).
func (e *Engine) CollectVote(ctx context.Context, p *poll.Poll, userID string, optionIndex int) (Result, error) {
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return Result{}, pollerr.New(pollerr.KindValidation, "option index out of range")
	}

	var result Result
	err := e.withRetry(ctx, func(ctx context.Context) error {
		status, err := e.store.PollStatus(ctx, p.ID)
		if err != nil {
			return err
		}
		if status != poll.StatusActive {
			result = Result{Success: true, Action: ActionIgnored, Reason: "poll_inactive"}
			return nil
		}

		existing, err := e.store.VotesForUser(ctx, p.ID, userID)
		if err != nil {
			return err
		}

		if p.MultipleChoice {
			result, err = e.collectMultipleChoice(ctx, p, userID, optionIndex, existing)
		} else {
			result, err = e.collectSingleChoice(ctx, p, userID, optionIndex, existing)
		}
		return err
	})
	if err != nil {
		if pollerr.KindOf(err) == pollerr.KindValidation {
			return Result{}, err
		}
		return Result{}, err
	}
	if e.onUpdate != nil && result.Success && result.Action != ActionIgnored {
		e.fireOnUpdate(ctx, p)
	}
	return result, nil
}

// fireOnUpdate checks the voter-count threshold and invokes the on_update
// hook, best-effort: a failure to read the current count just skips this
// tick's ping rather than failing the vote that already committed.
func (e *Engine) fireOnUpdate(ctx context.Context, p *poll.Poll) {
	total, err := e.store.DistinctVoterCount(ctx, p.ID)
	if err != nil {
		return
	}
	quarter := e.projectedCapacity / 4
	if quarter < 1 {
		quarter = 1
	}
	if total == 1 || total%quarter == 0 {
		e.onUpdate(p, total)
	}
}

func (e *Engine) collectSingleChoice(ctx context.Context, p *poll.Poll, userID string, optionIndex int, existing []int) (Result, error) {
	if len(existing) == 0 {
		if err := e.store.AddVote(ctx, p.ID, userID, optionIndex); err != nil {
			return Result{}, err
		}
		return Result{Success: true, Action: ActionAdded}, nil
	}
	if existing[0] == optionIndex {
		if _, err := e.store.RemoveVote(ctx, p.ID, userID, optionIndex); err != nil {
			return Result{}, err
		}
		return Result{Success: true, Action: ActionRemoved}, nil
	}
	if err := e.store.ClearVotesForUser(ctx, p.ID, userID); err != nil {
		return Result{}, err
	}
	if err := e.store.AddVote(ctx, p.ID, userID, optionIndex); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Action: ActionChanged}, nil
}

func (e *Engine) collectMultipleChoice(ctx context.Context, p *poll.Poll, userID string, optionIndex int, existing []int) (Result, error) {
	for _, idx := range existing {
		if idx == optionIndex {
			if _, err := e.store.RemoveVote(ctx, p.ID, userID, optionIndex); err != nil {
				return Result{}, err
			}
			return Result{Success: true, Action: ActionRemoved}, nil
		}
	}
	if len(existing) >= p.EffectiveMaxChoices() {
		return Result{}, pollerr.New(pollerr.KindValidation, "max_choices_reached")
	}
	if err := e.store.AddVote(ctx, p.ID, userID, optionIndex); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Action: ActionAdded}, nil
}

// withRetry runs fn inside a transaction, retrying once more on a
// serialization conflict before surfacing KindDataIntegrity as a
// concurrent-write error.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxConcurrentWriteRetries; attempt++ {
		lastErr = e.store.WithTx(ctx, fn)
		if lastErr == nil || !isConflict(lastErr) {
			return lastErr
		}
		time.Sleep(10 * time.Millisecond)
	}
	return pollerr.New(pollerr.KindDataIntegrity, "concurrent_write")
}

// isConflict reports whether err looks like a sqlite "database is locked"
// or similar serialization failure, rather than a genuine data error.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
