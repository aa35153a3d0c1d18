package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/poll"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), dir+"/pollbot.db", dir+"/cache", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func samplePoll() *poll.Poll {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &poll.Poll{
		Name:      "lunch",
		Question:  "Where should we eat?",
		Options:   []string{"Tacos", "Pizza"},
		Emojis:    []string{"\U0001F32E", "\U0001F355"},
		ServerID:  "server-1",
		ChannelID: "channel-1",
		CreatorID: "user-1",
		OpenTime:  now,
		CloseTime: now.Add(24 * time.Hour),
		Timezone:  "UTC",
	}
}

func TestCreateAndGetPoll(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	p := samplePoll()
	if err := st.CreatePoll(ctx, p); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected a generated id")
	}
	if p.Status != poll.StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", p.Status)
	}

	got, err := st.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if got.Name != "lunch" || len(got.Options) != 2 || got.Options[1] != "Pizza" {
		t.Fatalf("unexpected round-trip poll: %+v", got)
	}
	if got.HasMessage() {
		t.Fatal("a freshly created poll should not have a message id")
	}
}

func TestGetPollNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetPoll(context.Background(), 999)
	if err == nil {
		t.Fatal("expected an error for a missing poll")
	}
}

func TestPollLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := samplePoll()
	if err := st.CreatePoll(ctx, p); err != nil {
		t.Fatalf("create poll: %v", err)
	}

	if err := st.MarkOpened(ctx, p.ID, "msg-1", ""); err != nil {
		t.Fatalf("mark opened: %v", err)
	}
	opened, err := st.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if opened.Status != poll.StatusActive || opened.MessageID != "msg-1" {
		t.Fatalf("expected active poll with message id, got %+v", opened)
	}

	if err := st.MarkClosed(ctx, p.ID); err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	closed, err := st.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if closed.Status != poll.StatusClosed {
		t.Fatalf("expected closed status, got %s", closed.Status)
	}

	if err := st.MarkReopened(ctx, p.ID, ReopenOptions{ExtendByMin: 30}); err != nil {
		t.Fatalf("reopen poll: %v", err)
	}
	reopened, err := st.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if reopened.Status != poll.StatusActive {
		t.Fatalf("expected active status after reopen, got %s", reopened.Status)
	}
	if !reopened.CloseTime.After(closed.CloseTime) {
		t.Fatalf("expected close_time to be extended: before=%v after=%v", closed.CloseTime, reopened.CloseTime)
	}
}

func TestListPollsByStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	p1, p2 := samplePoll(), samplePoll()
	p2.Name = "trivia night"
	if err := st.CreatePoll(ctx, p1); err != nil {
		t.Fatalf("create poll 1: %v", err)
	}
	if err := st.CreatePoll(ctx, p2); err != nil {
		t.Fatalf("create poll 2: %v", err)
	}
	if err := st.MarkOpened(ctx, p2.ID, "msg-2", ""); err != nil {
		t.Fatalf("open poll 2: %v", err)
	}

	scheduled, err := st.ListPollsByStatus(ctx, poll.StatusScheduled)
	if err != nil {
		t.Fatalf("list scheduled: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].ID != p1.ID {
		t.Fatalf("expected exactly poll 1 to still be scheduled, got %+v", scheduled)
	}

	active, err := st.ListPollsByStatus(ctx, poll.StatusActive)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != p2.ID {
		t.Fatalf("expected exactly poll 2 to be active, got %+v", active)
	}
}

func TestDeletePollCascadesVotes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := samplePoll()
	if err := st.CreatePoll(ctx, p); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if err := st.AddVote(ctx, p.ID, "voter-1", 0); err != nil {
		t.Fatalf("add vote: %v", err)
	}

	if err := st.DeletePoll(ctx, p.ID); err != nil {
		t.Fatalf("delete poll: %v", err)
	}
	votes, err := st.AllVotes(ctx, p.ID)
	if err != nil {
		t.Fatalf("all votes: %v", err)
	}
	if len(votes) != 0 {
		t.Fatalf("expected votes to cascade-delete, got %d", len(votes))
	}
}

func TestVoteTallyAndDistinctVoters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := samplePoll()
	if err := st.CreatePoll(ctx, p); err != nil {
		t.Fatalf("create poll: %v", err)
	}

	if err := st.AddVote(ctx, p.ID, "voter-1", 0); err != nil {
		t.Fatalf("add vote: %v", err)
	}
	if err := st.AddVote(ctx, p.ID, "voter-2", 0); err != nil {
		t.Fatalf("add vote: %v", err)
	}
	if err := st.AddVote(ctx, p.ID, "voter-2", 1); err != nil {
		t.Fatalf("add vote: %v", err)
	}

	tally, err := st.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally[0] != 2 || tally[1] != 1 {
		t.Fatalf("unexpected tally: %v", tally)
	}

	voters, err := st.DistinctVoterCount(ctx, p.ID)
	if err != nil {
		t.Fatalf("distinct voter count: %v", err)
	}
	if voters != 2 {
		t.Fatalf("expected 2 distinct voters, got %d", voters)
	}

	removed, err := st.RemoveVote(ctx, p.ID, "voter-2", 1)
	if err != nil {
		t.Fatalf("remove vote: %v", err)
	}
	if !removed {
		t.Fatal("expected RemoveVote to report a row removed")
	}
	votesForUser, err := st.VotesForUser(ctx, p.ID, "voter-2")
	if err != nil {
		t.Fatalf("votes for user: %v", err)
	}
	if len(votesForUser) != 1 || votesForUser[0] != 0 {
		t.Fatalf("expected voter-2 left with only option 0, got %v", votesForUser)
	}
}

func TestUserPreferenceDefaultsWhenUnset(t *testing.T) {
	st := newTestStore(t)
	pref, err := st.GetUserPreference(context.Background(), "user-without-prefs")
	if err != nil {
		t.Fatalf("get user preference: %v", err)
	}
	if pref.DefaultTimezone != "UTC" {
		t.Fatalf("expected UTC default timezone, got %q", pref.DefaultTimezone)
	}
}

func TestSaveAndReloadUserPreference(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	pref := poll.UserPreference{
		UserID:                "user-1",
		LastServerID:          "server-1",
		LastChannelID:         "channel-1",
		DefaultTimezone:       "America/New_York",
		TimezoneExplicitlySet: true,
	}
	if err := st.SaveUserPreference(ctx, pref); err != nil {
		t.Fatalf("save user preference: %v", err)
	}
	got, err := st.GetUserPreference(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user preference: %v", err)
	}
	if got.DefaultTimezone != "America/New_York" || !got.TimezoneExplicitlySet {
		t.Fatalf("unexpected preference round-trip: %+v", got)
	}
}

func TestGuildAndChannelCache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.UpsertGuild(ctx, poll.Guild{ID: "guild-1", Name: "Test Server"}); err != nil {
		t.Fatalf("upsert guild: %v", err)
	}
	if err := st.UpsertChannel(ctx, poll.Channel{ID: "chan-1", GuildID: "guild-1", Name: "general", Position: 0}); err != nil {
		t.Fatalf("upsert channel: %v", err)
	}
	if err := st.UpsertChannel(ctx, poll.Channel{ID: "chan-2", GuildID: "guild-1", Name: "random", Position: 1}); err != nil {
		t.Fatalf("upsert channel: %v", err)
	}

	guilds, err := st.ListGuilds(ctx)
	if err != nil {
		t.Fatalf("list guilds: %v", err)
	}
	if len(guilds) != 1 || guilds[0].Name != "Test Server" {
		t.Fatalf("unexpected guilds: %+v", guilds)
	}

	channels, err := st.ListChannels(ctx, "guild-1")
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "general" {
		t.Fatalf("unexpected channel order: %+v", channels)
	}
}

func TestMigrationsApplyOnReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := Open(ctx, dir+"/pollbot.db", dir+"/cache", zerolog.Nop())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(ctx, dir+"/pollbot.db", dir+"/cache", zerolog.Nop())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	pref, err := second.GetUserPreference(ctx, "anyone")
	if err != nil {
		t.Fatalf("get user preference after reopen: %v", err)
	}
	if pref.LastRoleID != "" {
		t.Fatalf("expected empty last_role_id for a fresh user, got %q", pref.LastRoleID)
	}
}
