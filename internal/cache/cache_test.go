package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("boom")
}
func (brokenStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("boom")
}
func (brokenStore) Delete(ctx context.Context, key string) error { return errors.New("boom") }

func TestInProcessGetSetDeleteRoundTrip(t *testing.T) {
	c := NewInProcess()
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("unexpected get result: %q ok=%v err=%v", v, ok, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, _ = c.Get(ctx, "k")
	if ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestInProcessExpiresEntries(t *testing.T) {
	c := NewInProcess()
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok, _ := c.Get(ctx, "k")
	if ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestFallbackFallsThroughOnPrimaryError(t *testing.T) {
	f := NewFallback(brokenStore{}, zerolog.Nop())
	ctx := context.Background()

	if err := f.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("expected Set to succeed via fallback, got %v", err)
	}
	v, ok, err := f.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("expected fallback read to succeed: %q ok=%v err=%v", v, ok, err)
	}
}

func TestFallbackWithNilPrimaryUsesBackupDirectly(t *testing.T) {
	f := NewFallback(nil, zerolog.Nop())
	ctx := context.Background()
	if err := f.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := f.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("unexpected: %q ok=%v err=%v", v, ok, err)
	}
}

func TestCacheKeyHelpersAreStable(t *testing.T) {
	if UserPreferenceKey("u1") != "user_pref:u1" {
		t.Fatalf("unexpected key: %s", UserPreferenceKey("u1"))
	}
	if PollRenderKey(42) != "poll_render:42" {
		t.Fatalf("unexpected key: %s", PollRenderKey(42))
	}
}
