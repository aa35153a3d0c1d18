package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/archive"
	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/closing"
	"github.com/pollbot/pollbot/internal/opening"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
)

type fakeStore struct {
	scheduled []*poll.Poll
	active    []*poll.Poll
	closed    []*poll.Poll
	deleted   []int64
}

func (f *fakeStore) ListPollsByStatus(ctx context.Context, status poll.Status) ([]*poll.Poll, error) {
	switch status {
	case poll.StatusScheduled:
		return f.scheduled, nil
	case poll.StatusActive:
		return f.active, nil
	case poll.StatusClosed:
		return f.closed, nil
	}
	return nil, nil
}

func (f *fakeStore) DeletePoll(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) AllVotes(ctx context.Context, pollID int64) ([]poll.Vote, error) {
	return []poll.Vote{{UserID: "u1", OptionIndex: 0}}, nil
}

func (f *fakeStore) Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error) {
	return make([]int, numOptions), nil
}

func (f *fakeStore) DistinctVoterCount(ctx context.Context, pollID int64) (int, error) {
	return 1, nil
}

// removePoll drops id from polls, standing in for the status change a real
// open or close commits, so a later recovery pass no longer sees it as due.
func removePoll(polls []*poll.Poll, id int64) []*poll.Poll {
	var out []*poll.Poll
	for _, p := range polls {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

type fakeOpener struct {
	calls int
	store *fakeStore
}

func (f *fakeOpener) Open(ctx context.Context, pollID int64, reason opening.Reason, actorID string) (opening.Result, error) {
	f.calls++
	if f.store != nil {
		f.store.scheduled = removePoll(f.store.scheduled, pollID)
	}
	return opening.Result{}, nil
}

type fakeCloser struct {
	calls int
	store *fakeStore
}

func (f *fakeCloser) Close(ctx context.Context, pollID int64, reason closing.Reason) (closing.Result, error) {
	f.calls++
	if f.store != nil {
		f.store.active = removePoll(f.store.active, pollID)
	}
	return closing.Result{}, nil
}

type fakeChat struct {
	chatplatform.Client
	notFoundFor map[string]bool
	editCount   int
	clearCount  int
}

func (f *fakeChat) FetchMessage(ctx context.Context, channel chatplatform.ChannelID, message chatplatform.MessageID) (*chatplatform.Message, error) {
	if f.notFoundFor[string(message)] {
		return nil, pollerr.New(pollerr.KindNotFound, "gone")
	}
	return &chatplatform.Message{ID: message, ChannelID: channel}, nil
}

func (f *fakeChat) EditMessage(ctx context.Context, channel chatplatform.ChannelID, message chatplatform.MessageID, embed chatplatform.Embed) (bool, error) {
	f.editCount++
	return true, nil
}

func (f *fakeChat) ClearReactions(ctx context.Context, message chatplatform.MessageID, channel chatplatform.ChannelID) error {
	f.clearCount++
	return nil
}

func noSleep(time.Duration) {}

func samplePoll(id int64, status poll.Status) *poll.Poll {
	return &poll.Poll{
		ID:        id,
		Question:  "Where to eat?",
		Options:   []string{"Tacos", "Pizza"},
		Emojis:    []string{"🌮", "🍕"},
		ChannelID: "chan-1",
		MessageID: "msg-1",
		Status:    status,
	}
}

func TestSweepScheduledOpensOverduePolls(t *testing.T) {
	p := samplePoll(1, poll.StatusScheduled)
	p.OpenTime = time.Unix(1000, 0)
	store := &fakeStore{scheduled: []*poll.Poll{p}}
	opener := &fakeOpener{store: store}
	closer := &fakeCloser{}
	chat := &fakeChat{}
	now := func() time.Time { return time.Unix(2000, 0) }

	orch := New(store, chat, opener, closer, nil, nil, nil, nil, zerolog.Nop(), WithClock(now), WithSleeper(noSleep))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if opener.calls != 1 || report.ScheduledOpened != 1 {
		t.Fatalf("expected the overdue scheduled poll to be opened, report=%+v", report)
	}
}

func TestSweepScheduledReschedulesFuturePolls(t *testing.T) {
	p := samplePoll(1, poll.StatusScheduled)
	p.OpenTime = time.Unix(5000, 0)
	store := &fakeStore{scheduled: []*poll.Poll{p}}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	chat := &fakeChat{}
	now := func() time.Time { return time.Unix(2000, 0) }

	var scheduledOpenFor, scheduledCloseFor *poll.Poll
	orch := New(store, chat, opener, closer, nil, nil,
		func(p *poll.Poll) { scheduledOpenFor = p },
		func(p *poll.Poll) { scheduledCloseFor = p },
		zerolog.Nop(), WithClock(now), WithSleeper(noSleep))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if opener.calls != 0 {
		t.Fatal("must not open a poll scheduled for the future")
	}
	if scheduledOpenFor == nil || scheduledCloseFor == nil {
		t.Fatal("expected both open and close jobs to be (re)armed for a future scheduled poll")
	}
}

func TestSweepActiveClosesOverduePolls(t *testing.T) {
	p := samplePoll(1, poll.StatusActive)
	p.CloseTime = time.Unix(1000, 0)
	store := &fakeStore{active: []*poll.Poll{p}}
	opener := &fakeOpener{}
	closer := &fakeCloser{store: store}
	chat := &fakeChat{}
	now := func() time.Time { return time.Unix(2000, 0) }

	orch := New(store, chat, opener, closer, nil, nil, nil, nil, zerolog.Nop(), WithClock(now), WithSleeper(noSleep))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if closer.calls != 1 || report.ActiveClosed != 1 {
		t.Fatalf("expected the overdue active poll to be closed, report=%+v", report)
	}
}

func TestSweepActiveReschedulesFuturePolls(t *testing.T) {
	p := samplePoll(1, poll.StatusActive)
	p.CloseTime = time.Unix(5000, 0)
	store := &fakeStore{active: []*poll.Poll{p}}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	chat := &fakeChat{}
	now := func() time.Time { return time.Unix(2000, 0) }

	var rescheduled *poll.Poll
	orch := New(store, chat, opener, closer, nil, nil, nil,
		func(p *poll.Poll) { rescheduled = p },
		zerolog.Nop(), WithClock(now), WithSleeper(noSleep))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if closer.calls != 0 {
		t.Fatal("must not close a poll that isn't due yet")
	}
	if rescheduled == nil {
		t.Fatal("expected the close job to be re-armed for a poll not yet due")
	}
}

func TestMessageAuditDeletesPollsWithMissingMessages(t *testing.T) {
	p := samplePoll(1, poll.StatusActive)
	p.CloseTime = time.Unix(9999999999, 0)
	store := &fakeStore{active: []*poll.Poll{p}}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	chat := &fakeChat{notFoundFor: map[string]bool{"msg-1": true}}
	now := func() time.Time { return time.Unix(2000, 0) }

	orch := New(store, chat, opener, closer, nil, nil, nil, nil, zerolog.Nop(), WithClock(now), WithSleeper(noSleep))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MessagesMissingDeleted != 1 || len(store.deleted) != 1 || store.deleted[0] != p.ID {
		t.Fatalf("expected the poll with a missing message to be deleted, report=%+v deleted=%v", report, store.deleted)
	}
}

func TestArchiveBackfillGeneratesMissingArchives(t *testing.T) {
	dir := t.TempDir()
	p := samplePoll(1, poll.StatusClosed)
	store := &fakeStore{closed: []*poll.Poll{p}}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	chat := &fakeChat{}
	gen := archive.New(dir)
	now := func() time.Time { return time.Unix(2000, 0) }

	orch := New(store, chat, opener, closer, gen, nil, nil, nil, zerolog.Nop(), WithClock(now), WithSleeper(noSleep))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ArchivesBackfilled != 1 || !gen.Exists(p.ID) {
		t.Fatalf("expected a backfilled archive, report=%+v", report)
	}
}

func TestRepairSweepEditsAndClearsReactionsForClosedPolls(t *testing.T) {
	p := samplePoll(1, poll.StatusClosed)
	store := &fakeStore{closed: []*poll.Poll{p}}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	chat := &fakeChat{}
	now := func() time.Time { return time.Unix(2000, 0) }

	orch := New(store, chat, opener, closer, nil, nil, nil, nil, zerolog.Nop(), WithClock(now), WithSleeper(noSleep))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ClosedRepaired != 1 || chat.editCount == 0 || chat.clearCount == 0 {
		t.Fatalf("expected the closed poll's message to be repaired, report=%+v edits=%d clears=%d", report, chat.editCount, chat.clearCount)
	}
}

func TestRunConvergesOnFirstPassWhenNothingIsOverdue(t *testing.T) {
	p1 := samplePoll(1, poll.StatusScheduled)
	p1.OpenTime = time.Unix(5000, 0)
	p2 := samplePoll(2, poll.StatusActive)
	p2.CloseTime = time.Unix(5000, 0)
	store := &fakeStore{scheduled: []*poll.Poll{p1}, active: []*poll.Poll{p2}}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	chat := &fakeChat{}
	now := func() time.Time { return time.Unix(2000, 0) }

	orch := New(store, chat, opener, closer, nil, nil, func(*poll.Poll) {}, func(*poll.Poll) {}, zerolog.Nop(), WithClock(now), WithSleeper(noSleep))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Passes != 1 {
		t.Fatalf("expected convergence on the first pass with nothing overdue, got %d passes", report.Passes)
	}
	if report.Confidence != 1.0 {
		t.Fatalf("expected full confidence, got %v", report.Confidence)
	}
}
