// Package chatplatform is the narrow capability interface over the chat
// platform's bot API: message posting and editing, reactions, DMs, role
// lookups, and a push-based reaction event stream. It specifies only the
// operations the poll lifecycle actually needs rather than wrapping the
// platform's full client surface.
package chatplatform

import "context"

// Client is the full capability surface required by the opening, closing,
// reopening, vote, and safeguard services. A production implementation
// backs this with HTTP calls to the platform's bot API (see HTTPClient);
// tests back it with an in-memory fake.
type Client interface {
	// PostMessage posts embed (with optional plain-text content, e.g. a
	// role ping) to channel and returns the new message's id. Fails with a
	// *pollerr.Error of KindPermission, KindTransport, or KindNotFound.
	PostMessage(ctx context.Context, channel ChannelID, embed Embed, content string) (MessageID, error)

	// EditMessage replaces the embed of an existing message. A message
	// deleted externally is not an error: EditMessage returns (false, nil)
	// rather than failing, so callers can tell "edited" from "already gone"
	// without inspecting error kinds.
	EditMessage(ctx context.Context, channel ChannelID, message MessageID, embed Embed) (edited bool, err error)

	// FetchMessage fetches a message's current embed. Returns a
	// KindNotFound *pollerr.Error if the message no longer exists.
	FetchMessage(ctx context.Context, channel ChannelID, message MessageID) (*Message, error)

	// AddReaction adds emoji to message. Fails loudly with KindPermission;
	// any other failure is expected to be absorbed by the caller as
	// best-effort (the safeguard fills in missing reactions later).
	AddReaction(ctx context.Context, message MessageID, channel ChannelID, emoji string) error

	// ClearReactions removes every reaction from message. Idempotent: a
	// message with no reactions left is not an error.
	ClearReactions(ctx context.Context, message MessageID, channel ChannelID) error

	// RemoveReaction removes a single user's reaction. Idempotent.
	RemoveReaction(ctx context.Context, message MessageID, channel ChannelID, emoji string, user UserID) error

	// IterReactionUsers lazily iterates users who reacted with emoji on
	// message, handling pagination internally so a large vote count never
	// loads the whole list into memory. The returned function yields one
	// user id at a time; it returns (false, nil) at normal end of input and
	// (false, err) on fetch failure.
	IterReactionUsers(ctx context.Context, message MessageID, channel ChannelID, emoji string) ReactionUserIter

	// FetchUser resolves a user's cacheable identity.
	FetchUser(ctx context.Context, user UserID) (*User, error)

	// SendDM sends embed to user's direct-message channel. Fails with
	// KindPermission if the user has DMs closed.
	SendDM(ctx context.Context, user UserID, embed Embed) error

	// GetGuildRoles lists roles in guild that the bot is allowed to
	// @-mention.
	GetGuildRoles(ctx context.Context, guild string) ([]Role, error)

	// ScanChannelHistory searches the most recent messages in channel for
	// one the caller recognizes (used by the safeguard's second-attempt
	// recovery when FetchMessage returns KindNotFound, in case the message
	// id cached in the database drifted).
	ScanChannelHistory(ctx context.Context, channel ChannelID, limit int, match func(Message) bool) (*Message, error)
}

// ReactionUserIter yields reacting users one at a time. Next returns
// (UserID, true, nil) for each user, (_, false, nil) at the end of the
// sequence, and (_, false, err) if a page fetch fails partway through.
type ReactionUserIter func(ctx context.Context) (UserID, bool, error)
