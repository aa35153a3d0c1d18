package chatplatform

import "context"

// ReactionAddEvent is a single reaction-add push notification from the
// gateway: one user added one emoji to one message. It carries just enough
// to resolve the poll the reaction belongs to and replay it through the
// vote engine.
type ReactionAddEvent struct {
	Channel ChannelID
	Message MessageID
	User    UserID
	Emoji   string
}

// ReactionHandler processes one reaction-add event. Implementations should
// treat errors as transient — the gateway logs and keeps listening rather
// than tearing down the connection over a single failed event.
type ReactionHandler func(ctx context.Context, ev ReactionAddEvent) error
