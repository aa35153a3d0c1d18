package chatplatform

import "time"

// ChannelID, MessageID, UserID, and RoleID are opaque platform identifiers.
// They're kept as distinct string types (not a bare `string` everywhere) so
// a channel id can't be passed where a message id is expected.
type (
	ChannelID string
	MessageID string
	UserID    string
	RoleID    string
)

// EmbedField is one rendered field of a chat embed, e.g. a poll option with
// its progress bar.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is the rendered content of a poll message: title, description, and
// per-option fields.
type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
	Footer      string
	Color       int
}

// Message is the minimal view of a posted chat message the lifecycle
// services need back.
type Message struct {
	ID        MessageID
	ChannelID ChannelID
	Embed     Embed
}

// User is the minimal chat-platform identity the lifecycle services cache.
type User struct {
	ID        UserID
	Username  string
	AvatarRef string
	Bot       bool
}

// Role is a pingable role in a guild/server.
type Role struct {
	ID        RoleID
	Name      string
	Pingable  bool
	GuildID   string
	CreatedAt time.Time
}

// Reaction pairs an emoji with the message it's attached to.
type Reaction struct {
	MessageID MessageID
	ChannelID ChannelID
	Emoji     string
}
