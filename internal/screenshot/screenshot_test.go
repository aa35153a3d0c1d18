package screenshot

import (
	"context"
	"testing"
	"time"

	"github.com/pollbot/pollbot/internal/cache"
	"github.com/pollbot/pollbot/internal/pollerr"
)

func newTestService() *Service {
	return New(cache.NewInProcess(), []byte("test-secret-key-material"))
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	claims := Claims{PollID: 1, CreatorID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}

	token, err := svc.Issue(ctx, claims)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) < 20 {
		t.Fatalf("expected a substantial token, got %q", token)
	}

	got, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.PollID != 1 || got.CreatorID != "user-1" {
		t.Fatalf("unexpected claims round-trip: %+v", got)
	}
}

func TestValidateRejectsReuse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	claims := Claims{PollID: 2, CreatorID: "user-2", ExpiresAt: time.Now().Add(time.Hour)}
	token, err := svc.Issue(ctx, claims)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Validate(ctx, token); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	_, err = svc.Validate(ctx, token)
	if pollerr.KindOf(err) != pollerr.KindPermission {
		t.Fatalf("expected reuse to fail with KindPermission, got %v", err)
	}
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	svc := newTestService()
	_, err := svc.Validate(context.Background(), "not-a-real-token")
	if pollerr.KindOf(err) != pollerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestIssueRejectsPastExpiry(t *testing.T) {
	svc := newTestService()
	_, err := svc.Issue(context.Background(), Claims{PollID: 1, CreatorID: "u", ExpiresAt: time.Now().Add(-time.Minute)})
	if pollerr.KindOf(err) != pollerr.KindValidation {
		t.Fatalf("expected KindValidation for past expiry, got %v", err)
	}
}

func TestTwoTokensForSamePollAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	claims := Claims{PollID: 5, CreatorID: "u", ExpiresAt: time.Now().Add(time.Hour)}
	t1, err := svc.Issue(ctx, claims)
	if err != nil {
		t.Fatalf("issue 1: %v", err)
	}
	t2, err := svc.Issue(ctx, claims)
	if err != nil {
		t.Fatalf("issue 2: %v", err)
	}
	if t1 == t2 {
		t.Fatal("expected two distinct tokens for repeated issuance")
	}
	if _, err := svc.Validate(ctx, t1); err != nil {
		t.Fatalf("validate t1: %v", err)
	}
	if _, err := svc.Validate(ctx, t2); err != nil {
		t.Fatalf("validate t2 should be unaffected by t1's consumption: %v", err)
	}
}
