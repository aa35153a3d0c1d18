// Package recovery implements the startup orchestrator (C11): it runs once
// after the chat adapter reports ready, reconciling database state against
// chat-platform reality before the scheduler and safeguard take over.
package recovery

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pollbot/pollbot/internal/archive"
	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/closing"
	"github.com/pollbot/pollbot/internal/opening"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
	"github.com/pollbot/pollbot/internal/render"
)

const (
	repairBatchSize  = 3
	repairBatchDelay = 5 * time.Second
	repairPollDelay  = 1500 * time.Millisecond
	repairAPIDelay   = 800 * time.Millisecond

	rateLimitBackoff  = 10 * time.Second
	generic429Backoff = 15 * time.Second

	messageAuditCap    = 15
	archiveBackfillCap = 10
	defaultMaxPasses   = 3
	defaultConfidence  = 0.95
)

// Store is the persistence surface the recovery orchestrator needs.
type Store interface {
	ListPollsByStatus(ctx context.Context, status poll.Status) ([]*poll.Poll, error)
	DeletePoll(ctx context.Context, id int64) error
	AllVotes(ctx context.Context, pollID int64) ([]poll.Vote, error)
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
	DistinctVoterCount(ctx context.Context, pollID int64) (int, error)
}

// Opener is the narrow surface of *opening.Service the orchestrator needs.
type Opener interface {
	Open(ctx context.Context, pollID int64, reason opening.Reason, actorID string) (opening.Result, error)
}

// Closer is the narrow surface of *closing.Service the orchestrator needs.
type Closer interface {
	Close(ctx context.Context, pollID int64, reason closing.Reason) (closing.Result, error)
}

// Report summarizes what a Run pass did: counts for every sweep plus the
// total duration.
type Report struct {
	ScheduledOpened        int
	ActiveClosed           int
	ClosedRepaired         int
	MessagesMissingDeleted int
	ArchivesBackfilled     int
	Passes                 int
	Confidence             float64
	Duration               time.Duration
}

// Orchestrator runs the startup recovery sweep.
type Orchestrator struct {
	store    Store
	chat     chatplatform.Client
	opener   Opener
	closer   Closer
	archiver *archive.Generator

	resolveVoterName archive.VoterName
	scheduleOpen     func(p *poll.Poll)
	scheduleClose    func(p *poll.Poll)

	log zerolog.Logger
	now func() time.Time

	// sleep is swappable so fake-clock-driven tests don't pay the real
	// inter-batch/inter-poll delays.
	sleep func(time.Duration)

	maxPasses           int
	confidenceThreshold float64
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }
func WithSleeper(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}
func WithMaxPasses(n int) Option { return func(o *Orchestrator) { o.maxPasses = n } }
func WithConfidenceThreshold(t float64) Option {
	return func(o *Orchestrator) { o.confidenceThreshold = t }
}

func New(store Store, chat chatplatform.Client, opener Opener, closer Closer, archiver *archive.Generator, resolveVoterName archive.VoterName, scheduleOpen, scheduleClose func(p *poll.Poll), log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:               store,
		chat:                chat,
		opener:              opener,
		closer:              closer,
		archiver:            archiver,
		resolveVoterName:    resolveVoterName,
		scheduleOpen:        scheduleOpen,
		scheduleClose:       scheduleClose,
		log:                 log,
		now:                 time.Now,
		sleep:               time.Sleep,
		maxPasses:           defaultMaxPasses,
		confidenceThreshold: defaultConfidence,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs the five reconciliation sweeps, iterating validation passes
// until the confidence metric clears the threshold or the pass limit is
// hit. The repair/audit/backfill sweeps only run on the first pass — they
// are corrective actions, not convergence checks.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	start := o.now()
	var report Report

	for pass := 1; pass <= o.maxPasses; pass++ {
		report.Passes = pass

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(2)

		var opened, scheduledChecked, scheduledMismatched int
		var closedCount, activeChecked, activeMismatched int

		g.Go(func() error {
			opened, scheduledChecked, scheduledMismatched = o.sweepScheduled(gctx)
			return nil
		})
		g.Go(func() error {
			closedCount, activeChecked, activeMismatched = o.sweepActive(gctx)
			return nil
		})
		_ = g.Wait()

		report.ScheduledOpened += opened
		report.ActiveClosed += closedCount

		if pass == 1 {
			report.ClosedRepaired = o.sweepClosedRepair(ctx)
			report.MessagesMissingDeleted = o.sweepMessageAudit(ctx)
			report.ArchivesBackfilled = o.sweepArchiveBackfill(ctx)
		}

		checked := scheduledChecked + activeChecked
		mismatched := scheduledMismatched + activeMismatched
		confidence := 1.0
		if checked > 0 {
			confidence = 1 - float64(mismatched)/float64(checked)
		}
		report.Confidence = confidence

		o.log.Info().Int("pass", pass).Float64("confidence", confidence).Msg("recovery: pass complete")
		if confidence >= o.confidenceThreshold {
			break
		}
	}

	report.Duration = o.now().Sub(start)
	return report, nil
}

// sweepScheduled opens any scheduled poll whose open time has already
// passed, and arms the open/close jobs for everything still pending.
func (o *Orchestrator) sweepScheduled(ctx context.Context) (opened, checked, mismatched int) {
	polls, err := o.store.ListPollsByStatus(ctx, poll.StatusScheduled)
	if err != nil {
		o.log.Warn().Err(err).Msg("recovery: failed to list scheduled polls")
		return
	}
	now := o.now()
	for _, p := range polls {
		checked++
		if !p.OpenTime.After(now) {
			mismatched++
			if _, err := o.opener.Open(ctx, p.ID, opening.ReasonRecovery, ""); err != nil {
				o.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("recovery: failed to open overdue poll")
				continue
			}
			opened++
			continue
		}
		if o.scheduleOpen != nil {
			o.scheduleOpen(p)
		}
		if o.scheduleClose != nil {
			o.scheduleClose(p)
		}
	}
	return
}

// sweepActive closes any active poll whose close time has already passed,
// and arms the close job for everything still open.
func (o *Orchestrator) sweepActive(ctx context.Context) (closedCount, checked, mismatched int) {
	polls, err := o.store.ListPollsByStatus(ctx, poll.StatusActive)
	if err != nil {
		o.log.Warn().Err(err).Msg("recovery: failed to list active polls")
		return
	}
	now := o.now()
	for _, p := range polls {
		checked++
		if !p.CloseTime.After(now) {
			mismatched++
			if _, err := o.closer.Close(ctx, p.ID, closing.ReasonScheduled); err != nil {
				o.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("recovery: failed to close overdue poll")
				continue
			}
			closedCount++
			continue
		}
		if o.scheduleClose != nil {
			o.scheduleClose(p)
		}
	}
	return
}

// sweepClosedRepair re-renders and clears stray reactions on closed polls
// that still carry a message, rate-limited in small batches.
func (o *Orchestrator) sweepClosedRepair(ctx context.Context) int {
	polls, err := o.store.ListPollsByStatus(ctx, poll.StatusClosed)
	if err != nil {
		o.log.Warn().Err(err).Msg("recovery: failed to list closed polls")
		return 0
	}
	repaired := 0
	for i := 0; i < len(polls); i += repairBatchSize {
		end := i + repairBatchSize
		if end > len(polls) {
			end = len(polls)
		}
		batch := polls[i:end]
		for j, p := range batch {
			if p.HasMessage() && o.repairClosedPoll(ctx, p) {
				repaired++
			}
			if j < len(batch)-1 {
				o.sleep(repairPollDelay)
			}
		}
		if end < len(polls) {
			o.sleep(repairBatchDelay)
		}
	}
	return repaired
}

func (o *Orchestrator) repairClosedPoll(ctx context.Context, p *poll.Poll) bool {
	tally, err := o.store.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		return false
	}
	voters, _ := o.store.DistinctVoterCount(ctx, p.ID)
	embed := render.Final(p, tally, voters)

	o.sleep(repairAPIDelay)
	if _, err := o.chat.EditMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.MessageID(p.MessageID), embed); err != nil {
		o.backoff(err)
		return false
	}
	o.sleep(repairAPIDelay)
	if err := o.chat.ClearReactions(ctx, chatplatform.MessageID(p.MessageID), chatplatform.ChannelID(p.ChannelID)); err != nil {
		o.backoff(err)
		return false
	}
	return true
}

// backoff applies one of two tiers: a rate-limit error (the adapter's
// *chatplatform.RateLimitError or a KindRateLimit error) backs off 10s, any
// other transport failure backs off 15s.
func (o *Orchestrator) backoff(err error) {
	var rl *chatplatform.RateLimitError
	if errors.As(err, &rl) || pollerr.KindOf(err) == pollerr.KindRateLimit {
		o.sleep(rateLimitBackoff)
	} else {
		o.sleep(generic429Backoff)
	}
}

// sweepMessageAudit deletes polls whose chat message has vanished out from
// under them (e.g. manually deleted by a moderator), capped at 15 polls
// newest-first across both active and scheduled polls with a message_id.
func (o *Orchestrator) sweepMessageAudit(ctx context.Context) int {
	var candidates []*poll.Poll
	for _, status := range []poll.Status{poll.StatusActive, poll.StatusScheduled} {
		polls, err := o.store.ListPollsByStatus(ctx, status)
		if err != nil {
			continue
		}
		for _, p := range polls {
			if p.HasMessage() {
				candidates = append(candidates, p)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID > candidates[j].ID })
	if len(candidates) > messageAuditCap {
		candidates = candidates[:messageAuditCap]
	}

	deleted := 0
	for _, p := range candidates {
		_, err := o.chat.FetchMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.MessageID(p.MessageID))
		if err != nil && pollerr.IsNotFound(err) {
			if delErr := o.store.DeletePoll(ctx, p.ID); delErr == nil {
				deleted++
			}
		}
	}
	return deleted
}

// sweepArchiveBackfill generates a static archive for any closed poll that's
// missing one, capped at 10 polls per pass.
func (o *Orchestrator) sweepArchiveBackfill(ctx context.Context) int {
	if o.archiver == nil {
		return 0
	}
	polls, err := o.store.ListPollsByStatus(ctx, poll.StatusClosed)
	if err != nil {
		return 0
	}
	backfilled := 0
	for _, p := range polls {
		if backfilled >= archiveBackfillCap {
			break
		}
		if o.archiver.Exists(p.ID) {
			continue
		}
		votes, err := o.store.AllVotes(ctx, p.ID)
		if err != nil {
			continue
		}
		if err := o.archiver.Generate(ctx, p, votes, o.resolveVoterName); err != nil {
			o.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("recovery: archive backfill failed")
			continue
		}
		backfilled++
	}
	return backfilled
}
