// Package cache is the key-value layer (C12): short-TTL caching for user
// preferences, guild role lists, and poll embed-render inputs, with every
// call site tolerating cache_unavailable and falling through to the
// persistence layer. A narrow capability interface, not a concrete client
// type, is what every caller depends on.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the capability interface every call site depends on. A caller
// that gets ErrUnavailable from any method must fall through to its own
// source of truth rather than fail the operation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ErrUnavailable is returned by a remote Store implementation that cannot
// currently reach its backend; InProcess never returns it.
var ErrUnavailable = &unavailableError{}

type unavailableError struct{}

func (e *unavailableError) Error() string { return "cache_unavailable" }

// entry is one stored value with its absolute expiry.
type entry struct {
	value   []byte
	expires time.Time
}

// InProcess is an in-memory Store, used both as Fallback's always-on
// backing store and, directly, in tests and single-process deployments
// that have no remote cache configured.
type InProcess struct {
	mu   sync.Mutex
	data map[string]entry
}

func NewInProcess() *InProcess {
	return &InProcess{data: make(map[string]entry)}
}

func (c *InProcess) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		delete(c.data, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InProcess) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (c *InProcess) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Fallback wraps a preferred remote Store with an InProcess fallback: every
// call tries primary first, and on any error (including ErrUnavailable)
// falls through to the in-process map and logs a WARN for each primary
// failure.
type Fallback struct {
	primary Store
	backup  *InProcess
	log     zerolog.Logger
}

func NewFallback(primary Store, log zerolog.Logger) *Fallback {
	return &Fallback{primary: primary, backup: NewInProcess(), log: log}
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.primary != nil {
		v, ok, err := f.primary.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		f.log.Warn().Err(err).Str("key", key).Msg("cache: primary store unavailable, falling back to in-process")
	}
	return f.backup.Get(ctx, key)
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.primary != nil {
		if err := f.primary.Set(ctx, key, value, ttl); err != nil {
			f.log.Warn().Err(err).Str("key", key).Msg("cache: primary store unavailable, falling back to in-process")
			return f.backup.Set(ctx, key, value, ttl)
		}
		return nil
	}
	return f.backup.Set(ctx, key, value, ttl)
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	var primaryErr error
	if f.primary != nil {
		primaryErr = f.primary.Delete(ctx, key)
	}
	if err := f.backup.Delete(ctx, key); err != nil {
		return err
	}
	return primaryErr
}

// Key-building helpers keep cache-key shape centralized rather than
// scattered as string literals across call sites.

func UserPreferenceKey(userID string) string { return "user_pref:" + userID }
func GuildRolesKey(guildID string) string    { return "guild_roles:" + guildID }
func PollRenderKey(pollID int64) string      { return "poll_render:" + strconv.FormatInt(pollID, 10) }

const (
	// TTLUserPreference is long-lived; preferences are invalidated
	// explicitly on save rather than expiring naturally.
	TTLUserPreference = 24 * time.Hour
	// TTLGuildRoles is short: role lists change rarely but a stale pingable
	// role is a visible mistake, not just a slow read.
	TTLGuildRoles = 5 * time.Minute
	// TTLPollRender is invalidated on status change or vote mutation, so
	// its TTL is just a backstop against a missed invalidation.
	TTLPollRender = 2 * time.Minute
)
