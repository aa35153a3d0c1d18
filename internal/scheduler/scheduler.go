// Package scheduler is the in-process job clock (C5): it fires open and
// close jobs for polls at their configured wall-clock moments. It owns no
// durable state of its own — every entry it holds is reconstructed from the
// store at startup by the recovery sweep (C11), never trusted to have
// survived a restart on its own.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobKind distinguishes an open job from a close job, used only to build a
// deterministic, human-legible job id.
type JobKind string

const (
	JobOpen  JobKind = "open"
	JobClose JobKind = "close"
)

// JobID returns the deterministic id for a (kind, pollID) pair. Job ids are
// derived, not generated, so rescheduling the same poll replaces rather
// than duplicates its entry.
func JobID(kind JobKind, pollID int64) string {
	return fmt.Sprintf("%s_poll_%d", kind, pollID)
}

// Handler runs a scheduled job. Implementations are the opening/closing
// services; errors are logged but never retried by the scheduler itself —
// retry policy belongs to the handler. Nothing re-runs a failed job while
// the process is up; the recovery sweep (internal/recovery) opens or
// closes any overdue poll at the next startup.
type Handler func(ctx context.Context, pollID int64) error

// Scheduler wraps a *cron.Cron, mapping application-level job ids to cron
// entry ids so a reschedule can remove the previous entry before adding the
// new one.
type Scheduler struct {
	cr  *cron.Cron
	log zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Scheduler running in loc (almost always UTC — every
// schedule is stored in UTC and only localized at the display boundary),
// with per-job panic recovery so one misbehaving handler can't take down
// the whole clock.
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	cr := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	return &Scheduler{
		cr:      cr,
		log:     log,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cr.Start()
}

// Stop halts the scheduler, waiting for any job currently executing.
func (s *Scheduler) Stop(ctx context.Context) {
	<-s.cr.Stop().Done()
}

// Schedule arranges for handler to run once at runAt, under jobID. If jobID
// is already scheduled, the previous entry is removed first — rescheduling
// is always idempotent, never additive.
func (s *Scheduler) Schedule(jobID string, runAt time.Time, handler Handler, pollID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[jobID]; ok {
		s.cr.Remove(existing)
		delete(s.entries, jobID)
	}

	sched := onceAt(runAt)
	entryID := s.cr.Schedule(sched, cron.FuncJob(func() {
		ctx := context.Background()
		s.log.Debug().Str("job_id", jobID).Int64("poll_id", pollID).Msg("scheduler: firing job")
		if err := handler(ctx, pollID); err != nil {
			s.log.Error().Err(err).Str("job_id", jobID).Int64("poll_id", pollID).Msg("scheduler: job handler failed")
		}
		s.mu.Lock()
		delete(s.entries, jobID)
		s.mu.Unlock()
	}))
	s.entries[jobID] = entryID
}

// Cancel removes a scheduled job, if present. Canceling a job that was
// never scheduled (or already fired) is a no-op, not an error — callers
// cancel defensively (e.g. deleting a poll that might still be scheduled).
func (s *Scheduler) Cancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[jobID]; ok {
		s.cr.Remove(entryID)
		delete(s.entries, jobID)
	}
}

// IsScheduled reports whether jobID currently has a live entry.
func (s *Scheduler) IsScheduled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

// Len returns the number of currently scheduled jobs, used by health
// reporting.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// onceSchedule implements cron.Schedule for a single fire-once moment: Next
// returns runAt exactly once, and a time far in the future afterward so
// the entry is effectively dead (it's also explicitly removed from the
// entries map once it fires, so it never reconsults Next again in
// practice).
type onceSchedule struct {
	runAt time.Time
	fired bool
}

func onceAt(t time.Time) cron.Schedule {
	return &onceSchedule{runAt: t}
}

func (o *onceSchedule) Next(t time.Time) time.Time {
	if o.fired || t.After(o.runAt) {
		return time.Date(9999, 1, 1, 0, 0, 0, 0, t.Location())
	}
	o.fired = true
	return o.runAt
}

// cronLogger adapts zerolog to cron.Logger directly, rather than pulling in
// an adapter library for a two-method interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(toFields(keysAndValues)).Msg(msg)
}

func toFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
