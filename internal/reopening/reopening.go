// Package reopening implements the reopening service (C8): it flips a
// closed poll back to active in place, editing the existing message rather
// than posting a new one.
package reopening

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/cache"
	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/emoji"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/render"
	"github.com/pollbot/pollbot/internal/store"
)

// Options controls the optional side effects of a reopen: whether existing
// votes are purged and whether the close time is extended from now.
type Options struct {
	ResetVotes  bool
	ExtendByMin int
}

// Store is the persistence surface the reopening service needs.
type Store interface {
	GetPoll(ctx context.Context, id int64) (*poll.Poll, error)
	MarkReopened(ctx context.Context, id int64, opts store.ReopenOptions) error
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
}

// Service runs the reopening algorithm.
type Service struct {
	store Store
	chat  chatplatform.Client
	cache cache.Store
	log   zerolog.Logger

	// rescheduleClose arms the poll's close job against its (possibly
	// extended) close_time; a plain function for the same reason
	// opening.Service takes one.
	rescheduleClose func(p *poll.Poll)
}

func New(st Store, chat chatplatform.Client, c cache.Store, log zerolog.Logger, rescheduleClose func(p *poll.Poll)) *Service {
	return &Service{store: st, chat: chat, cache: c, log: log, rescheduleClose: rescheduleClose}
}

// Reopen flips a closed poll back to active: validate the transition,
// apply the optional vote reset/extension, re-edit the message, restore
// any missing reactions, and reschedule the close job.
func (s *Service) Reopen(ctx context.Context, pollID int64, opts Options) error {
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}

	// Step 1: status check.
	if err := poll.CanReopen(p.Status, p.HasMessage()); err != nil {
		return err
	}

	// Steps 2-4: purge votes / extend close_time / commit status=active,
	// all inside one transaction at the store layer.
	if err := s.store.MarkReopened(ctx, p.ID, store.ReopenOptions{
		ResetVotes:  opts.ResetVotes,
		ExtendByMin: opts.ExtendByMin,
	}); err != nil {
		return err
	}
	p.Status = poll.StatusActive

	// Step 5: edit the existing message, never post a new one.
	tally, err := s.store.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		return err
	}
	embed := render.Live(p, tally)
	if _, err := s.chat.EditMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.MessageID(p.MessageID), embed); err != nil {
		s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("reopening: failed to edit message")
	}

	// Step 6: ensure required reactions are present, adding any missing.
	for i, opt := range p.Emojis {
		resolved := emoji.Resolve(opt, i)
		if err := s.chat.AddReaction(ctx, chatplatform.MessageID(p.MessageID), chatplatform.ChannelID(p.ChannelID), resolved); err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Int("option", i).Msg("reopening: failed to (re)add reaction")
		}
	}

	// Step 7: reschedule the close job against the (possibly extended)
	// close_time.
	if s.rescheduleClose != nil {
		s.rescheduleClose(p)
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.PollRenderKey(p.ID))
	}

	return nil
}
