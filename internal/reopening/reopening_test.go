package reopening

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/store"
)

type fakeStore struct {
	p            *poll.Poll
	reopenedOpts store.ReopenOptions
	reopenedHit  bool
}

func (f *fakeStore) GetPoll(ctx context.Context, id int64) (*poll.Poll, error) {
	cp := *f.p
	return &cp, nil
}

func (f *fakeStore) MarkReopened(ctx context.Context, id int64, opts store.ReopenOptions) error {
	f.reopenedHit = true
	f.reopenedOpts = opts
	f.p.Status = poll.StatusActive
	if opts.ExtendByMin > 0 {
		f.p.CloseTime = f.p.CloseTime.Add(time.Duration(opts.ExtendByMin) * time.Minute)
	}
	return nil
}

func (f *fakeStore) Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error) {
	return make([]int, numOptions), nil
}

type fakeChat struct {
	chatplatform.Client
	editHit      bool
	reactionHits int
}

func (f *fakeChat) EditMessage(ctx context.Context, channel chatplatform.ChannelID, message chatplatform.MessageID, embed chatplatform.Embed) (bool, error) {
	f.editHit = true
	return true, nil
}

func (f *fakeChat) AddReaction(ctx context.Context, message chatplatform.MessageID, channel chatplatform.ChannelID, emoji string) error {
	f.reactionHits++
	return nil
}

func samplePoll() *poll.Poll {
	return &poll.Poll{
		ID:        1,
		Question:  "Where to eat?",
		Options:   []string{"Tacos", "Pizza"},
		Emojis:    []string{"🌮", "🍕"},
		ChannelID: "chan-1",
		MessageID: "msg-1",
		CloseTime: time.Now(),
		Status:    poll.StatusClosed,
	}
}

func TestReopenFlipsStatusAndEditsExistingMessage(t *testing.T) {
	p := samplePoll()
	st := &fakeStore{p: p}
	chat := &fakeChat{}
	svc := New(st, chat, nil, zerolog.Nop(), nil)

	if err := svc.Reopen(context.Background(), p.ID, Options{}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !st.reopenedHit {
		t.Fatal("expected MarkReopened to be called")
	}
	if !chat.editHit {
		t.Fatal("expected the existing message to be edited")
	}
	if chat.reactionHits != len(p.Options) {
		t.Fatalf("expected reactions re-added for every option, got %d", chat.reactionHits)
	}
}

func TestReopenRejectsPollWithoutMessage(t *testing.T) {
	p := samplePoll()
	p.MessageID = ""
	st := &fakeStore{p: p}
	chat := &fakeChat{}
	svc := New(st, chat, nil, zerolog.Nop(), nil)

	if err := svc.Reopen(context.Background(), p.ID, Options{}); err == nil {
		t.Fatal("expected an error reopening a poll with no prior message")
	}
}

func TestReopenRejectsNonClosedPoll(t *testing.T) {
	p := samplePoll()
	p.Status = poll.StatusActive
	st := &fakeStore{p: p}
	chat := &fakeChat{}
	svc := New(st, chat, nil, zerolog.Nop(), nil)

	if err := svc.Reopen(context.Background(), p.ID, Options{}); err == nil {
		t.Fatal("expected an error reopening a poll that is not closed")
	}
}

func TestReopenExtendsCloseTimeAndReschedules(t *testing.T) {
	p := samplePoll()
	originalClose := p.CloseTime
	st := &fakeStore{p: p}
	chat := &fakeChat{}
	var rescheduledFor *poll.Poll
	svc := New(st, chat, nil, zerolog.Nop(), func(p *poll.Poll) { rescheduledFor = p })

	if err := svc.Reopen(context.Background(), p.ID, Options{ExtendByMin: 30}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if st.reopenedOpts.ExtendByMin != 30 {
		t.Fatalf("expected ExtendByMin=30 to be passed through, got %d", st.reopenedOpts.ExtendByMin)
	}
	if rescheduledFor == nil || !rescheduledFor.CloseTime.After(originalClose) {
		t.Fatal("expected rescheduleClose to see the extended close time")
	}
}
