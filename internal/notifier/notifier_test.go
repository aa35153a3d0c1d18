package notifier

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/chatplatform"
)

// fakeClient implements only SendDM meaningfully; every other method panics
// if called, since the notifier never needs them.
type fakeClient struct {
	chatplatform.Client
	dmCount  int32
	failN    int32 // fail this many times before succeeding
	attempts int32
}

func (f *fakeClient) SendDM(ctx context.Context, user chatplatform.UserID, embed chatplatform.Embed) error {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= atomic.LoadInt32(&f.failN) {
		return errors.New("dm failed")
	}
	atomic.AddInt32(&f.dmCount, 1)
	return nil
}

func TestNotifyBelowThresholdDoesNotDM(t *testing.T) {
	fc := &fakeClient{}
	n := New(fc, "owner-1", zerolog.Nop())
	for i := 0; i < lowSeverityThreshold; i++ {
		n.Notify(context.Background(), CategoryVoting, errors.New("boom"))
	}
	if atomic.LoadInt32(&fc.dmCount) != 0 {
		t.Fatalf("expected no DM below threshold, got %d", fc.dmCount)
	}
}

func TestNotifyEscalatesPastThreshold(t *testing.T) {
	fc := &fakeClient{}
	n := New(fc, "owner-1", zerolog.Nop())
	for i := 0; i <= lowSeverityThreshold; i++ {
		n.Notify(context.Background(), CategoryClosure, errors.New("boom"))
	}
	if atomic.LoadInt32(&fc.dmCount) != 1 {
		t.Fatalf("expected exactly 1 DM once past threshold, got %d", fc.dmCount)
	}
}

func TestNotifyRetriesDMOnFailure(t *testing.T) {
	fc := &fakeClient{failN: 2}
	n := New(fc, "owner-1", zerolog.Nop())
	for i := 0; i <= lowSeverityThreshold; i++ {
		n.Notify(context.Background(), CategoryScheduler, errors.New("boom"))
	}
	if atomic.LoadInt32(&fc.dmCount) != 1 {
		t.Fatalf("expected the DM to eventually succeed after retries, got %d", fc.dmCount)
	}
	if atomic.LoadInt32(&fc.attempts) != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", fc.attempts)
	}
}

func TestNotifyWithNilOwnerNeverDMs(t *testing.T) {
	fc := &fakeClient{}
	n := New(fc, "", zerolog.Nop())
	for i := 0; i < lowSeverityThreshold+5; i++ {
		n.Notify(context.Background(), CategoryPollCreation, errors.New("boom"))
	}
	if atomic.LoadInt32(&fc.dmCount) != 0 {
		t.Fatalf("expected no DM with empty owner id, got %d", fc.dmCount)
	}
}

func TestCategoriesAreDistinctCounters(t *testing.T) {
	fc := &fakeClient{}
	n := New(fc, "owner-1", zerolog.Nop())
	for i := 0; i < lowSeverityThreshold; i++ {
		n.Notify(context.Background(), CategoryRecovery, errors.New("boom"))
	}
	n.Notify(context.Background(), CategoryVoting, errors.New("boom"))
	if atomic.LoadInt32(&fc.dmCount) != 0 {
		t.Fatalf("a different category at its first occurrence should not escalate, got %d DMs", fc.dmCount)
	}
}
