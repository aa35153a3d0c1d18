package opening

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/poll"
)

type fakeStore struct {
	p              *poll.Poll
	markOpenedCall bool
}

func (f *fakeStore) GetPoll(ctx context.Context, id int64) (*poll.Poll, error) {
	cp := *f.p
	return &cp, nil
}

func (f *fakeStore) MarkOpened(ctx context.Context, id int64, messageID string, imageMessageID string) error {
	f.markOpenedCall = true
	f.p.Status = poll.StatusActive
	f.p.MessageID = messageID
	return nil
}

func (f *fakeStore) Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error) {
	return make([]int, numOptions), nil
}

type fakeChat struct {
	chatplatform.Client
	posted    int
	reactions int
	failPost  bool
}

func (f *fakeChat) PostMessage(ctx context.Context, channel chatplatform.ChannelID, embed chatplatform.Embed, content string) (chatplatform.MessageID, error) {
	f.posted++
	if f.failPost {
		return "", &testErr{"post failed"}
	}
	return chatplatform.MessageID("msg-1"), nil
}

func (f *fakeChat) AddReaction(ctx context.Context, message chatplatform.MessageID, channel chatplatform.ChannelID, emoji string) error {
	f.reactions++
	return nil
}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func samplePoll() *poll.Poll {
	return &poll.Poll{
		ID:        1,
		Name:      "lunch",
		Question:  "Where to eat?",
		Options:   []string{"Tacos", "Pizza"},
		Emojis:    []string{"🌮", "🍕"},
		ChannelID: "chan-1",
		ServerID:  "server-1",
		CreatorID: "user-1",
		OpenTime:  time.Now(),
		CloseTime: time.Now().Add(time.Hour),
		Status:    poll.StatusScheduled,
	}
}

func TestOpenPostsMessageAddsReactionsAndCommits(t *testing.T) {
	p := samplePoll()
	store := &fakeStore{p: p}
	chat := &fakeChat{}
	svc := New(store, chat, nil, nil, zerolog.Nop(), nil)

	res, err := svc.Open(context.Background(), p.ID, ReasonScheduled, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.MessageID != "msg-1" {
		t.Fatalf("unexpected message id: %s", res.MessageID)
	}
	if !store.markOpenedCall {
		t.Fatal("expected MarkOpened to be called")
	}
	if chat.reactions != len(p.Options) {
		t.Fatalf("expected %d reactions, got %d", len(p.Options), chat.reactions)
	}
}

func TestOpenAlreadyActiveIsReportedNotErrored(t *testing.T) {
	p := samplePoll()
	p.Status = poll.StatusActive
	p.MessageID = "existing-msg"
	store := &fakeStore{p: p}
	chat := &fakeChat{}
	svc := New(store, chat, nil, nil, zerolog.Nop(), nil)

	res, err := svc.Open(context.Background(), p.ID, ReasonScheduled, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AlreadyActive || res.MessageID != "existing-msg" {
		t.Fatalf("expected already_active result, got %+v", res)
	}
	if chat.posted != 0 {
		t.Fatal("expected no message to be posted for an already-active poll")
	}
}

func TestOpenClosedPollFailsWithoutReopenReason(t *testing.T) {
	p := samplePoll()
	p.Status = poll.StatusClosed
	p.MessageID = "old-msg"
	store := &fakeStore{p: p}
	chat := &fakeChat{}
	svc := New(store, chat, nil, nil, zerolog.Nop(), nil)

	_, err := svc.Open(context.Background(), p.ID, ReasonScheduled, "")
	if err == nil {
		t.Fatal("expected an error opening a closed poll with reason=scheduled")
	}
}

func TestOpenSchedulesCloseJob(t *testing.T) {
	p := samplePoll()
	store := &fakeStore{p: p}
	chat := &fakeChat{}
	var scheduledFor *poll.Poll
	svc := New(store, chat, nil, nil, zerolog.Nop(), func(p *poll.Poll) { scheduledFor = p })

	if _, err := svc.Open(context.Background(), p.ID, ReasonScheduled, ""); err != nil {
		t.Fatalf("open: %v", err)
	}
	if scheduledFor == nil || scheduledFor.ID != p.ID {
		t.Fatal("expected scheduleClose hook to be invoked with the opened poll")
	}
}
