// Package safeguard implements the reaction safeguard (C10): a periodic
// reconciliation loop that treats the chat message's reaction state as
// authoritative input and the database as authoritative output, closing the
// gap left by reaction events missed during disconnections, rate limits, or
// process downtime. internal/reaction handles the live event path; this is
// the backstop for whatever that path misses.
package safeguard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/emoji"
	"github.com/pollbot/pollbot/internal/pollerr"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/render"
	"github.com/pollbot/pollbot/internal/voteengine"
)

const (
	defaultTickInterval = 5 * time.Second
	defaultRetrySleep   = 2 * time.Second
	historyScanLimit    = 50
)

// Store is the persistence surface the safeguard needs.
type Store interface {
	ListPollsByStatus(ctx context.Context, status poll.Status) ([]*poll.Poll, error)
	DeletePoll(ctx context.Context, id int64) error
	VotesForUser(ctx context.Context, pollID int64, userID string) ([]int, error)
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
	PollStatus(ctx context.Context, pollID int64) (poll.Status, error)
}

// VoteEngine is the narrow vote-collection surface; satisfied by
// *voteengine.Engine.
type VoteEngine interface {
	CollectVote(ctx context.Context, p *poll.Poll, userID string, optionIndex int) (voteengine.Result, error)
}

// Safeguard runs the 5-second reconciliation loop.
type Safeguard struct {
	store  Store
	chat   chatplatform.Client
	engine VoteEngine
	log    zerolog.Logger

	tracker *FailureTracker
	audit   *AuditLog

	interval   time.Duration
	retrySleep time.Duration
	now        func() time.Time
	sleep      func(time.Duration)
}

// Option configures optional Safeguard behavior, mainly for fake-clock
// driven tests.
type Option func(*Safeguard)

func WithInterval(d time.Duration) Option { return func(s *Safeguard) { s.interval = d } }
func WithClock(now func() time.Time) Option {
	return func(s *Safeguard) { s.now = now }
}
func WithSleeper(sleep func(time.Duration)) Option {
	return func(s *Safeguard) { s.sleep = sleep }
}

func New(store Store, chat chatplatform.Client, engine VoteEngine, log zerolog.Logger, opts ...Option) *Safeguard {
	s := &Safeguard{
		store:      store,
		chat:       chat,
		engine:     engine,
		log:        log,
		tracker:    NewFailureTracker(),
		audit:      NewAuditLog(),
		interval:   defaultTickInterval,
		retrySleep: defaultRetrySleep,
		now:        time.Now,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Audit exposes the read-only vote-correction ring buffer for the admin
// dashboard.
func (s *Safeguard) Audit() []AuditEntry { return s.audit.Recent() }

// Run ticks forever until ctx is canceled, observing the cooperative
// shutdown signal at the top of each iteration.
func (s *Safeguard) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.interval).Msg("safeguard: loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("safeguard: loop stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn().Err(err).Msg("safeguard: tick failed")
			}
		}
	}
}

// Tick runs a single reconciliation sweep over every active poll.
func (s *Safeguard) Tick(ctx context.Context) error {
	polls, err := s.store.ListPollsByStatus(ctx, poll.StatusActive)
	if err != nil {
		return err
	}
	for _, p := range polls {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !p.HasMessage() {
			continue
		}
		if _, ok := s.fetchMessage(ctx, p); !ok {
			continue
		}
		s.reconcile(ctx, p)
	}
	return nil
}

// fetchMessage fetches a poll's message with a three-stage retry ladder: a
// direct fetch, then (on the second consecutive failure) a channel history
// scan in case the cached message id drifted, then (on the third) one more
// direct fetch after a short sleep.
func (s *Safeguard) fetchMessage(ctx context.Context, p *poll.Poll) (*chatplatform.Message, bool) {
	channel := chatplatform.ChannelID(p.ChannelID)
	message := chatplatform.MessageID(p.MessageID)

	msg, err := s.chat.FetchMessage(ctx, channel, message)
	if err == nil {
		s.tracker.Clear(p.ID)
		return msg, true
	}
	if !pollerr.IsNotFound(err) {
		s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("safeguard: message fetch failed")
		return nil, false
	}

	attempts := s.tracker.RecordFailure(p.ID, s.now())
	switch attempts {
	case 2:
		found, scanErr := s.chat.ScanChannelHistory(ctx, channel, historyScanLimit, func(m chatplatform.Message) bool {
			return m.ID == message
		})
		if scanErr == nil && found != nil {
			s.tracker.Clear(p.ID)
			return found, true
		}
	case 3:
		s.sleep(s.retrySleep)
		retried, retryErr := s.chat.FetchMessage(ctx, channel, message)
		if retryErr == nil {
			s.tracker.Clear(p.ID)
			return retried, true
		}
	}

	if s.tracker.Exhausted(p.ID) {
		windowID := s.tracker.WindowID(p.ID)
		if delErr := s.store.DeletePoll(ctx, p.ID); delErr != nil {
			s.log.Error().Err(delErr).Int64("poll_id", p.ID).Str("failure_window", windowID.String()).Msg("safeguard: failed to delete unrecoverable poll")
		} else {
			s.log.Warn().Int64("poll_id", p.ID).Str("failure_window", windowID.String()).Msg("safeguard: deleted poll whose message is permanently gone")
		}
		s.tracker.Clear(p.ID)
	}
	return nil, false
}

// reconcile walks every poll-option emoji on the message, replaying any
// reaction that doesn't already have a matching vote recorded.
func (s *Safeguard) reconcile(ctx context.Context, p *poll.Poll) {
	channel := chatplatform.ChannelID(p.ChannelID)
	message := chatplatform.MessageID(p.MessageID)

	for i, raw := range p.Emojis {
		resolved := emoji.Resolve(raw, i)
		iter := s.chat.IterReactionUsers(ctx, message, channel, resolved)
		for {
			userID, ok, err := iter(ctx)
			if err != nil {
				s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("safeguard: reaction iteration failed")
				break
			}
			if !ok {
				break
			}
			s.reconcileReaction(ctx, p, i, resolved, userID)
		}
	}
}

func (s *Safeguard) reconcileReaction(ctx context.Context, p *poll.Poll, optionIndex int, resolvedEmoji string, userID chatplatform.UserID) {
	if user, err := s.chat.FetchUser(ctx, userID); err == nil && user != nil && user.Bot {
		return
	}

	channel := chatplatform.ChannelID(p.ChannelID)
	message := chatplatform.MessageID(p.MessageID)

	existing, err := s.store.VotesForUser(ctx, p.ID, string(userID))
	if err != nil {
		s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("safeguard: failed to read existing votes")
		return
	}
	hadVote := len(existing) > 0

	if !hadVote {
		status, err := s.store.PollStatus(ctx, p.ID)
		if err != nil {
			return
		}
		if status != poll.StatusActive {
			_ = s.chat.RemoveReaction(ctx, message, channel, resolvedEmoji, userID)
			return
		}
	}

	res, err := s.engine.CollectVote(ctx, p, string(userID), optionIndex)
	if err != nil || !res.Success {
		return
	}

	s.audit.Record(AuditEntry{PollID: p.ID, UserID: string(userID), Action: res.Action, At: s.now()})
	_ = s.chat.RemoveReaction(ctx, message, channel, resolvedEmoji, userID)

	if hadVote {
		s.sendConfirmationDM(ctx, p, userID, res)
	} else {
		s.refreshEmbed(ctx, p)
	}
}

func (s *Safeguard) sendConfirmationDM(ctx context.Context, p *poll.Poll, userID chatplatform.UserID, res voteengine.Result) {
	embed := chatplatform.Embed{
		Title:       "Vote reconciled",
		Description: "We noticed a reaction that hadn't registered yet and recorded your vote for \"" + p.Question + "\".",
	}
	if err := s.chat.SendDM(ctx, userID, embed); err != nil {
		s.log.Info().Err(err).Int64("poll_id", p.ID).Msg("safeguard: confirmation DM failed")
	}
}

func (s *Safeguard) refreshEmbed(ctx context.Context, p *poll.Poll) {
	tally, err := s.store.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		return
	}
	embed := render.Live(p, tally)
	if _, err := s.chat.EditMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.MessageID(p.MessageID), embed); err != nil {
		s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("safeguard: failed to refresh embed")
	}
}
