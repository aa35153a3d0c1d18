package voteengine

import (
	"context"
	"testing"

	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
)

// fakeStore is a minimal in-memory stand-in for *store.Store, in the
// teacher's hand-rolled-fake style (no mocking library).
type fakeStore struct {
	status poll.Status
	votes  map[string][]int // userID -> option indexes
}

func newFakeStore(status poll.Status) *fakeStore {
	return &fakeStore{status: status, votes: make(map[string][]int)}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) PollStatus(ctx context.Context, pollID int64) (poll.Status, error) {
	return f.status, nil
}

func (f *fakeStore) VotesForUser(ctx context.Context, pollID int64, userID string) ([]int, error) {
	return append([]int(nil), f.votes[userID]...), nil
}

func (f *fakeStore) AddVote(ctx context.Context, pollID int64, userID string, optionIndex int) error {
	f.votes[userID] = append(f.votes[userID], optionIndex)
	return nil
}

func (f *fakeStore) RemoveVote(ctx context.Context, pollID int64, userID string, optionIndex int) (bool, error) {
	existing := f.votes[userID]
	for i, idx := range existing {
		if idx == optionIndex {
			f.votes[userID] = append(existing[:i], existing[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ClearVotesForUser(ctx context.Context, pollID int64, userID string) error {
	delete(f.votes, userID)
	return nil
}

func (f *fakeStore) DistinctVoterCount(ctx context.Context, pollID int64) (int, error) {
	return len(f.votes), nil
}

func singleChoicePoll() *poll.Poll {
	return &poll.Poll{ID: 1, Options: []string{"a", "b", "c"}, MultipleChoice: false}
}

func multiChoicePoll(maxChoices int) *poll.Poll {
	return &poll.Poll{ID: 1, Options: []string{"a", "b", "c"}, MultipleChoice: true, MaxChoices: maxChoices}
}

func TestCollectVoteIgnoresInactivePoll(t *testing.T) {
	fs := newFakeStore(poll.StatusScheduled)
	e := New(fs)
	res, err := e.CollectVote(context.Background(), singleChoicePoll(), "u1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionIgnored || res.Reason != "poll_inactive" {
		t.Fatalf("expected ignored/poll_inactive, got %+v", res)
	}
}

func TestCollectVoteRejectsOutOfRangeOption(t *testing.T) {
	fs := newFakeStore(poll.StatusActive)
	e := New(fs)
	_, err := e.CollectVote(context.Background(), singleChoicePoll(), "u1", 5)
	if pollerr.KindOf(err) != pollerr.KindValidation {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestSingleChoiceAddChangeToggle(t *testing.T) {
	fs := newFakeStore(poll.StatusActive)
	e := New(fs)
	p := singleChoicePoll()
	ctx := context.Background()

	res, err := e.CollectVote(ctx, p, "u1", 0)
	if err != nil || res.Action != ActionAdded {
		t.Fatalf("expected added, got %+v err=%v", res, err)
	}

	res, err = e.CollectVote(ctx, p, "u1", 1)
	if err != nil || res.Action != ActionChanged {
		t.Fatalf("expected changed, got %+v err=%v", res, err)
	}
	if got := fs.votes["u1"]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected exactly option 1 recorded, got %v", got)
	}

	res, err = e.CollectVote(ctx, p, "u1", 1)
	if err != nil || res.Action != ActionRemoved {
		t.Fatalf("expected removed (toggle off), got %+v err=%v", res, err)
	}
	if len(fs.votes["u1"]) != 0 {
		t.Fatalf("expected no votes left, got %v", fs.votes["u1"])
	}
}

func TestMultipleChoiceCapEnforced(t *testing.T) {
	fs := newFakeStore(poll.StatusActive)
	e := New(fs)
	p := multiChoicePoll(2)
	ctx := context.Background()

	if res, err := e.CollectVote(ctx, p, "u1", 0); err != nil || res.Action != ActionAdded {
		t.Fatalf("first vote: %+v %v", res, err)
	}
	if res, err := e.CollectVote(ctx, p, "u1", 1); err != nil || res.Action != ActionAdded {
		t.Fatalf("second vote: %+v %v", res, err)
	}
	_, err := e.CollectVote(ctx, p, "u1", 2)
	if pollerr.KindOf(err) != pollerr.KindValidation {
		t.Fatalf("expected max_choices_reached validation error, got %v", err)
	}

	// Toggling off an existing selection must still succeed even at cap.
	res, err := e.CollectVote(ctx, p, "u1", 0)
	if err != nil || res.Action != ActionRemoved {
		t.Fatalf("expected toggle-off to succeed at cap, got %+v err=%v", res, err)
	}
}

func TestOnUpdateHookFiresOnFirstVoteAndQuarterThresholds(t *testing.T) {
	fs := newFakeStore(poll.StatusActive)
	var fired []int
	e := New(fs, WithOnUpdateHook(4, func(p *poll.Poll, total int) {
		fired = append(fired, total)
	}))
	p := singleChoicePoll()
	ctx := context.Background()

	for i, user := range []string{"u1", "u2", "u3", "u4"} {
		if _, err := e.CollectVote(ctx, p, user, 0); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if len(fired) != 4 {
		t.Fatalf("expected the hook to fire on every vote up to capacity/4=1, got %v", fired)
	}
}

func TestOnUpdateHookDisabledByDefault(t *testing.T) {
	fs := newFakeStore(poll.StatusActive)
	e := New(fs)
	if _, err := e.CollectVote(context.Background(), singleChoicePoll(), "u1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.onUpdate != nil {
		t.Fatal("expected onUpdate hook to be nil when not configured")
	}
}
