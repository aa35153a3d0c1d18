package safeguard

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// maxFetchRetries and retryWindow bound how long a poll's message can stay
// unfetchable before it's treated as permanently gone: after this many
// consecutive failures inside this window, the poll is deleted rather than
// retried forever.
const (
	maxFetchRetries = 5
	retryWindow     = 30 * time.Minute
)

type failureState struct {
	attempts     int
	firstFailure time.Time
	// windowID is a sortable diagnostic id for this failure window, surfaced
	// in logs so an operator can tell two windows for the same poll apart
	// without cross-referencing timestamps by hand.
	windowID xid.ID
}

// FailureTracker is transient, safeguard-owned diagnostic state: a per-poll
// counter of consecutive missing-message observations with a
// first-observed timestamp. It is mutated only from the safeguard's single
// tick, so no lock is strictly required; it keeps a mutex anyway so a
// call from another goroutine cannot corrupt it.
type FailureTracker struct {
	mu     sync.Mutex
	states map[int64]*failureState
}

func NewFailureTracker() *FailureTracker {
	return &FailureTracker{states: make(map[int64]*failureState)}
}

// RecordFailure bumps the poll's consecutive-failure count, starting a new
// window if none is open or the prior window has expired. It returns the
// attempt count after this failure.
func (t *FailureTracker) RecordFailure(pollID int64, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[pollID]
	if !ok || now.Sub(st.firstFailure) > retryWindow {
		st = &failureState{firstFailure: now, windowID: xid.New()}
		t.states[pollID] = st
	}
	st.attempts++
	return st.attempts
}

// WindowID returns the diagnostic id of pollID's current failure window, or
// the zero id if no window is open.
func (t *FailureTracker) WindowID(pollID int64) xid.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[pollID]; ok {
		return st.windowID
	}
	return xid.ID{}
}

// Attempts reports the poll's current consecutive-failure count without
// recording a new one.
func (t *FailureTracker) Attempts(pollID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[pollID]; ok {
		return st.attempts
	}
	return 0
}

// Clear resets a poll's tracker, called once its message is found again.
func (t *FailureTracker) Clear(pollID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, pollID)
}

// Exhausted reports whether pollID has crossed maxFetchRetries within the
// current window and should be deleted as unrecoverable.
func (t *FailureTracker) Exhausted(pollID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[pollID]
	return ok && st.attempts >= maxFetchRetries
}
