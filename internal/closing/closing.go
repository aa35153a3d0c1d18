// Package closing implements the closing service (C7): it finalizes a
// poll's results and message. Status flips to closed *before* reactions
// are cleared, so a racing reaction event observes closed and declines to
// persist a vote — the single ordering invariant this whole package
// exists to enforce.
package closing

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/archive"
	"github.com/pollbot/pollbot/internal/cache"
	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/render"
)

// Reason identifies why close() was invoked.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
)

// Store is the persistence surface the closing service needs.
type Store interface {
	GetPoll(ctx context.Context, id int64) (*poll.Poll, error)
	MarkClosed(ctx context.Context, id int64) error
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
	DistinctVoterCount(ctx context.Context, pollID int64) (int, error)
	AllVotes(ctx context.Context, pollID int64) ([]poll.Vote, error)
}

// Result is what close() reports back to its caller.
type Result struct {
	AlreadyClosed bool
}

// Service runs the closing algorithm.
type Service struct {
	store    Store
	chat     chatplatform.Client
	cache    cache.Store
	archiver *archive.Generator
	log      zerolog.Logger

	resolveVoterName archive.VoterName
	// cancelCloseJob removes the poll's scheduled close job, if any; a
	// plain function for the same reason opening.Service takes
	// scheduleClose as one — it avoids an import-cycle-prone dependency
	// on *scheduler.Scheduler's concrete type.
	cancelCloseJob func(pollID int64)
}

func New(store Store, chat chatplatform.Client, c cache.Store, archiver *archive.Generator, resolveVoterName archive.VoterName, log zerolog.Logger, cancelCloseJob func(pollID int64)) *Service {
	return &Service{store: store, chat: chat, cache: c, archiver: archiver, resolveVoterName: resolveVoterName, log: log, cancelCloseJob: cancelCloseJob}
}

// Close finalizes an open poll: commits status=closed, re-renders the
// message with final tallies, clears reactions, pings the close role,
// generates a static archive, and cancels the now-unneeded close job.
func (s *Service) Close(ctx context.Context, pollID int64, reason Reason) (Result, error) {
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return Result{}, err
	}

	alreadyClosed, err := poll.CanClose(p.Status)
	if err != nil {
		return Result{}, err
	}
	if alreadyClosed {
		return Result{AlreadyClosed: true}, nil
	}

	// Step 2: commit status=closed first.
	if err := s.store.MarkClosed(ctx, p.ID); err != nil {
		return Result{}, err
	}
	p.Status = poll.StatusClosed

	tally, err := s.store.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		return Result{}, err
	}
	voters, err := s.store.DistinctVoterCount(ctx, p.ID)
	if err != nil {
		voters = 0
		s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("closing: failed to count distinct voters")
	}

	// Step 3-4: re-render with final results and edit the live message.
	if p.HasMessage() {
		finalEmbed := render.Final(p, tally, voters)
		if _, err := s.chat.EditMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.MessageID(p.MessageID), finalEmbed); err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("closing: failed to edit message with final results")
		}

		// Step 5: clear reactions, best-effort.
		if err := s.chat.ClearReactions(ctx, chatplatform.MessageID(p.MessageID), chatplatform.ChannelID(p.ChannelID)); err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("closing: failed to clear reactions")
		}
	}

	// Step 6: role-ping on close.
	if content := render.RolePingContent(p.RolePing, "close"); content != "" {
		if _, err := s.chat.PostMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.Embed{Description: "Poll has closed."}, content); err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("closing: role-ping notification failed")
		}
	}

	// Step 7: generate static archive, non-fatally.
	if s.archiver != nil {
		votes, err := s.store.AllVotes(ctx, p.ID)
		if err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("closing: failed to load votes for archive")
		} else if err := s.archiver.Generate(ctx, p, votes, s.resolveVoterName); err != nil {
			s.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("closing: failed to generate static archive")
		}
	}

	// Step 8: cancel the scheduled close job, if any.
	if s.cancelCloseJob != nil {
		s.cancelCloseJob(p.ID)
	}

	// Step 9: invalidate cache.
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.PollRenderKey(p.ID))
	}

	return Result{}, nil
}
