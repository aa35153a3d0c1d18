// Package opening implements the opening service (C6): the hardest path
// in the lifecycle. It posts the poll message (and optional image), adds
// the option reactions, commits status=active, and
// arranges the close job — all while leaving the poll in `scheduled` if
// anything fails before the status commit.
package opening

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/cache"
	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/emoji"
	"github.com/pollbot/pollbot/internal/notifier"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
	"github.com/pollbot/pollbot/internal/render"
)

// Reason identifies why open() was invoked; it governs which state
// transitions are legal.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
	ReasonImmediate Reason = "immediate"
	ReasonReopen    Reason = "reopen"
	ReasonRecovery  Reason = "recovery"
)

// Store is the persistence surface the opening service needs.
type Store interface {
	GetPoll(ctx context.Context, id int64) (*poll.Poll, error)
	MarkOpened(ctx context.Context, id int64, messageID string, imageMessageID string) error
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
}

// Result is what open() reports back to its caller (a scheduler tick, a
// slash command handler, or the recovery orchestrator).
type Result struct {
	AlreadyActive bool
	MessageID     string
}

// Service runs the opening algorithm.
type Service struct {
	store    Store
	chat     chatplatform.Client
	cache    cache.Store
	notifier *notifier.Notifier
	log      zerolog.Logger

	// scheduleClose is called at step 8 to (re)arm the poll's close job.
	// It's a plain function rather than an interface so this package doesn't need to import internal/scheduler's time.Time
	// dependent Schedule signature directly — callers close over their
	// *scheduler.Scheduler in cmd/pollbot/main.go wiring.
	scheduleClose func(p *poll.Poll)
}

func New(store Store, chat chatplatform.Client, c cache.Store, n *notifier.Notifier, log zerolog.Logger, scheduleClose func(p *poll.Poll)) *Service {
	return &Service{store: store, chat: chat, cache: c, notifier: n, log: log, scheduleClose: scheduleClose}
}

// Open posts a poll's message and transitions it to active. actorID is the
// user who triggered a manual open, empty for automated reasons.
func (s *Service) Open(ctx context.Context, pollID int64, reason Reason, actorID string) (Result, error) {
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return Result{}, err
	}

	// Step 1: load & lock (the re-read above is the "lock" in the sense
	// that every decision below is made against this fresh status).
	alreadyActive, err := poll.CanOpen(p.Status, string(reason))
	if err != nil {
		return Result{}, pollerr.Wrap(pollerr.KindValidation, err, err.Error())
	}
	if alreadyActive && reason != ReasonRecovery && reason != ReasonManual {
		return Result{AlreadyActive: true, MessageID: p.MessageID}, nil
	}

	// Step 2: validate fields, with the emoji fallback ladder resolving
	// anything unrenderable before it ever reaches the chat platform.
	if err := p.Validate(); err != nil {
		return Result{}, pollerr.Wrap(pollerr.KindValidation, err, err.Error())
	}
	resolvedEmojis := make([]string, len(p.Emojis))
	for i, e := range p.Emojis {
		resolvedEmojis[i] = emoji.Resolve(e, i)
	}

	// Step 3: post the image message first, non-fatally.
	var imageMessageID string
	if p.ImagePath != "" {
		id, err := s.chat.PostMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.Embed{
			Description: p.ImageMessageText,
		}, "")
		if err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("opening: image message failed, continuing without it")
		} else {
			imageMessageID = string(id)
		}
	}

	// Step 4: post the poll message.
	tally, err := s.store.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		return Result{}, err
	}
	embed := render.Live(p, tally)
	messageID, err := s.chat.PostMessage(ctx, chatplatform.ChannelID(p.ChannelID), embed, "")
	if err != nil {
		s.notify(ctx, err)
		return Result{}, err
	}

	// Step 5: add reactions in option order, best-effort.
	for i := range p.Options {
		if err := s.chat.AddReaction(ctx, messageID, chatplatform.ChannelID(p.ChannelID), resolvedEmojis[i]); err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Int("option", i).Msg("opening: reaction failed, safeguard will retry")
		}
	}

	// Step 6: commit status=active and message_id atomically.
	if err := s.store.MarkOpened(ctx, p.ID, string(messageID), imageMessageID); err != nil {
		return Result{}, err
	}
	p.Status = poll.StatusActive
	p.MessageID = string(messageID)

	// Step 7: role-ping notification, retrying without the mention on a
	// permission failure rather than failing the whole open().
	if content := render.RolePingContent(p.RolePing, "open"); content != "" {
		if _, err := s.chat.PostMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.Embed{Description: "Poll is now open."}, content); err != nil {
			if pollerr.IsPermission(err) {
				_, _ = s.chat.PostMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.Embed{Description: "Poll is now open."}, "")
			} else {
				s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("opening: role-ping notification failed")
			}
		}
	}

	// Step 8: ensure the close job is scheduled (idempotent — the
	// scheduler replaces any existing entry under the same job id).
	if s.scheduleClose != nil {
		s.scheduleClose(p)
	}

	// Step 9: invalidate cache entries this poll's render/preferences used.
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.PollRenderKey(p.ID))
	}

	return Result{MessageID: string(messageID)}, nil
}

func (s *Service) notify(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notifier.CategoryPollCreation, err)
}
