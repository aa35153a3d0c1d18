// Package notifier is the error escalation path (C13): it categorizes
// failures by operation, suppresses repeat noise with a daily threshold
// counter per category, and DMs the configured owner when escalation is
// warranted.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/chatplatform"
)

// Category identifies which operation an error came from, for both the
// threshold counter and the DM text.
type Category string

const (
	CategoryPollCreation Category = "poll_creation"
	CategoryVoting       Category = "voting"
	CategoryClosure      Category = "closure"
	CategoryScheduler    Category = "scheduler"
	CategoryRecovery     Category = "recovery"
)

// lowSeverityThreshold is how many occurrences of a category log at INFO
// before escalating to WARNING and a DM.
const lowSeverityThreshold = 5

const dmMaxAttempts = 3

// Notifier escalates operational errors to the system owner.
type Notifier struct {
	chat    chatplatform.Client
	ownerID chatplatform.UserID
	log     zerolog.Logger

	mu          sync.Mutex
	counts      map[Category]int
	countsReset time.Time
}

// New builds a Notifier. chat may be nil (e.g. in tests exercising only the
// threshold-counting logic), in which case Notify still logs but never
// attempts a DM.
func New(chat chatplatform.Client, ownerID chatplatform.UserID, log zerolog.Logger) *Notifier {
	return &Notifier{
		chat:        chat,
		ownerID:     ownerID,
		log:         log,
		counts:      make(map[Category]int),
		countsReset: time.Now(),
	}
}

// Notify records one occurrence of category and, once its count passes
// lowSeverityThreshold, escalates to the owner via DM. Every category is
// counted against the same threshold; none escalates on its first
// occurrence. Always logs; the DM is best-effort.
func (n *Notifier) Notify(ctx context.Context, category Category, err error) {
	n.mu.Lock()
	n.rolloverLocked()
	n.counts[category]++
	count := n.counts[category]
	n.mu.Unlock()

	event := n.log.Info()
	escalate := count > lowSeverityThreshold
	if escalate {
		event = n.log.Warn()
	}
	event.Err(err).Str("category", string(category)).Int("occurrence", count).Msg("notifier: operational error")

	if !escalate {
		return
	}
	n.sendDM(ctx, category, err)
}

// rolloverLocked resets every counter once a day. Caller holds n.mu.
func (n *Notifier) rolloverLocked() {
	if time.Since(n.countsReset) < 24*time.Hour {
		return
	}
	n.counts = make(map[Category]int)
	n.countsReset = time.Now()
}

func (n *Notifier) sendDM(ctx context.Context, category Category, cause error) {
	if n.chat == nil || n.ownerID == "" {
		return
	}
	embed := chatplatform.Embed{
		Title:       "pollbot error escalation",
		Description: fmt.Sprintf("Category: %s\n\n%s", category, cause.Error()),
		Color:       0xE03131,
	}

	var lastErr error
	for attempt := 0; attempt < dmMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		if lastErr = n.chat.SendDM(ctx, n.ownerID, embed); lastErr == nil {
			return
		}
	}
	n.log.Warn().Err(lastErr).Str("category", string(category)).Msg("notifier: owner DM failed after retries, logged-only")
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}
