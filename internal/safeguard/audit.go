package safeguard

import (
	"sync"
	"time"

	"github.com/pollbot/pollbot/internal/voteengine"
)

// auditCapacity bounds the ring buffer's memory use; old corrections simply
// fall off the back. This is diagnostic state for the admin dashboard, not
// durable storage, so it deliberately gets no schema table of its own, the
// same as FailureTracker.
const auditCapacity = 200

// AuditEntry records one safeguard-driven vote correction.
type AuditEntry struct {
	PollID int64
	UserID string
	Action voteengine.Action
	At     time.Time
}

// AuditLog is an in-memory ring buffer of recent safeguard corrections.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool
}

func NewAuditLog() *AuditLog {
	return &AuditLog{entries: make([]AuditEntry, auditCapacity)}
}

func (a *AuditLog) Record(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[a.next] = e
	a.next = (a.next + 1) % len(a.entries)
	if a.next == 0 {
		a.full = true
	}
}

// Recent returns the buffer's contents, oldest first.
func (a *AuditLog) Recent() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.full {
		out := make([]AuditEntry, a.next)
		copy(out, a.entries[:a.next])
		return out
	}
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries[a.next:])
	copy(out[len(a.entries)-a.next:], a.entries[:a.next])
	return out
}
