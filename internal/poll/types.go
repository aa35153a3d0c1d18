// Package poll holds the Poll/Vote aggregate and the status state machine
// (C4): an explicit aggregate rooted at Poll with a Vote collection loaded
// on demand rather than a bidirectional ORM back-reference. Nothing here
// points back to its owner, and read paths that don't need votes never
// load them.
package poll

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a poll.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
)

// RolePing configures the optional role mention on open/close/update.
type RolePing struct {
	Enabled  bool
	RoleID   string
	RoleName string
	OnOpen   bool
	OnClose  bool
	OnUpdate bool
}

// Poll is the lifecycle unit: a question, its options, its schedule, and its
// current status. Fields mirror the `polls` table in
// internal/store/migrations, except ImageMessageID and RolePing's
// OnOpen/OnClose/OnUpdate flags, which have no column and are not
// persisted; Poll never carries votes inline.
type Poll struct {
	ID                int64
	Name              string
	Question          string
	Options           []string
	Emojis            []string
	ImagePath         string
	ImageMessageText  string
	ImageMessageID    string
	ServerID          string
	ServerName        string
	ChannelID         string
	ChannelName       string
	CreatorID         string
	MessageID         string
	OpenTime          time.Time
	CloseTime         time.Time
	Timezone          string
	Anonymous         bool
	MultipleChoice    bool
	MaxChoices        int
	OpenImmediately   bool
	RolePing          RolePing
	Status            Status
	CreatedAt         time.Time
}

// HasMessage reports whether the poll has a live chat message recorded.
func (p *Poll) HasMessage() bool {
	return p != nil && p.MessageID != ""
}

// EffectiveMaxChoices returns the vote cap the engine should enforce: 1 for
// single-choice polls regardless of what's stored, and MaxChoices for
// multiple-choice polls, or len(Options) when MaxChoices is unset (< 1).
func (p *Poll) EffectiveMaxChoices() int {
	if !p.MultipleChoice {
		return 1
	}
	if p.MaxChoices < 1 {
		return len(p.Options)
	}
	return p.MaxChoices
}

// Validate enforces Poll's field-level invariants ahead of any persistence
// or chat-platform call. Every failure is a
// *pollerr.Error with KindValidation at the call site; this function
// returns plain errors so the poll package itself doesn't need to import
// pollerr for what is really just field-level bean validation.
func (p *Poll) Validate() error {
	if len(p.Options) < 2 || len(p.Options) > 10 {
		return fmt.Errorf("poll must have between 2 and 10 options, got %d", len(p.Options))
	}
	if len(p.Options) != len(p.Emojis) {
		return fmt.Errorf("options and emojis must be the same length: %d options, %d emojis", len(p.Options), len(p.Emojis))
	}
	if !p.CloseTime.After(p.OpenTime) {
		return fmt.Errorf("close_time must be after open_time")
	}
	if !p.MultipleChoice && p.MaxChoices > 1 {
		return fmt.Errorf("max_choices must be 1 when multiple_choice is false")
	}
	if p.Status != StatusScheduled && p.MessageID == "" {
		return fmt.Errorf("poll with status %q requires a message_id", p.Status)
	}
	return nil
}

// MarshalOptions and MarshalEmojis serialize the option/emoji lists the way
// they're stored: as JSON arrays in a single TEXT column.
func (p *Poll) MarshalOptions() (string, error) {
	data, err := json.Marshal(p.Options)
	return string(data), err
}

func (p *Poll) MarshalEmojis() (string, error) {
	data, err := json.Marshal(p.Emojis)
	return string(data), err
}

// UnmarshalOptionsEmojis is the inverse of MarshalOptions/MarshalEmojis,
// used by the store when scanning a row back into a Poll.
func UnmarshalOptionsEmojis(optionsJSON, emojisJSON string) ([]string, []string, error) {
	var options, emojis []string
	if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
		return nil, nil, fmt.Errorf("decoding options_json: %w", err)
	}
	if err := json.Unmarshal([]byte(emojisJSON), &emojis); err != nil {
		return nil, nil, fmt.Errorf("decoding emojis_json: %w", err)
	}
	return options, emojis, nil
}

// Vote is one recorded selection: (poll, user, option).
type Vote struct {
	ID          int64
	PollID      int64
	UserID      string
	OptionIndex int
	VotedAt     time.Time
}

// User is the minimal cached chat-platform identity.
type User struct {
	ID        string
	Username  string
	Avatar    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserPreference holds per-user defaults used to pre-fill the create-poll
// form.
type UserPreference struct {
	UserID                string
	LastServerID          string
	LastChannelID         string
	DefaultTimezone       string
	TimezoneExplicitlySet bool
	LastRoleID            string
	UpdatedAt             time.Time
}

// Guild is a periodically refreshed snapshot of a server the bot sees.
type Guild struct {
	ID        string
	Name      string
	Icon      string
	OwnerID   string
	UpdatedAt time.Time
}

// Channel is a periodically refreshed snapshot of a channel within a Guild.
type Channel struct {
	ID        string
	GuildID   string
	Name      string
	Type      string
	Position  int
	UpdatedAt time.Time
}
