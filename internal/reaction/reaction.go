// Package reaction is the primary, event-driven half of vote collection: it
// turns a single live reaction-add push notification into a vote write and
// a reaction-state update on the chat message. internal/safeguard is the
// secondary half — a periodic sweep that reconciles anything this path
// misses (disconnections, rate limits, process downtime) — and its own
// always-remove-on-success behavior is deliberately simpler than the rule
// this package enforces.
package reaction

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/emoji"
	"github.com/pollbot/pollbot/internal/pollerr"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/render"
	"github.com/pollbot/pollbot/internal/voteengine"
)

// Store is the persistence surface this package needs.
type Store interface {
	GetPollByMessage(ctx context.Context, channelID, messageID string) (*poll.Poll, error)
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
}

// VoteEngine is the narrow vote-collection surface; satisfied by
// *voteengine.Engine.
type VoteEngine interface {
	CollectVote(ctx context.Context, p *poll.Poll, userID string, optionIndex int) (voteengine.Result, error)
}

// Handler turns chatplatform.ReactionAddEvent pushes into vote writes.
type Handler struct {
	store  Store
	chat   chatplatform.Client
	engine VoteEngine
	log    zerolog.Logger
}

func New(store Store, chat chatplatform.Client, engine VoteEngine, log zerolog.Logger) *Handler {
	return &Handler{store: store, chat: chat, engine: engine, log: log}
}

// HandleReactionAdd is the primary reaction-event handler: it resolves the
// poll the message belongs to, matches the incoming emoji against the
// poll's configured option emojis, collects the vote, and then applies the
// reaction handling rule:
//
//   - on any failed or ignored vote, the reaction is left alone so the user
//     can see and retry;
//   - for anonymous or single-choice polls, a successful vote always
//     removes the reaction, since a lingering reaction would leak who voted
//     (anonymous) or look like more than one selection is active
//     (single-choice);
//   - for non-anonymous multiple-choice polls, a successful vote leaves the
//     reaction in place so the user can see every option they've selected,
//     removing it only when the vote toggled the option off.
//
// A max_choices_reached rejection is reported back to the user by DM, with
// the reaction deliberately left so they can see which attempt didn't
// register.
func (h *Handler) HandleReactionAdd(ctx context.Context, ev chatplatform.ReactionAddEvent) error {
	if user, err := h.chat.FetchUser(ctx, ev.User); err == nil && user != nil && user.Bot {
		return nil
	}

	p, err := h.store.GetPollByMessage(ctx, string(ev.Channel), string(ev.Message))
	if err != nil {
		if pollerr.IsNotFound(err) {
			return nil
		}
		return err
	}

	optionIndex, ok := matchOption(p, ev.Emoji)
	if !ok {
		return nil
	}

	res, err := h.engine.CollectVote(ctx, p, string(ev.User), optionIndex)
	if err != nil {
		if pollerr.KindOf(err) == pollerr.KindValidation {
			h.notifyRejected(ctx, p, ev.User, err)
		}
		return nil
	}
	if !res.Success || res.Action == voteengine.ActionIgnored {
		return nil
	}

	if p.Anonymous || !p.MultipleChoice || res.Action == voteengine.ActionRemoved {
		_ = h.chat.RemoveReaction(ctx, ev.Message, ev.Channel, ev.Emoji, ev.User)
	}

	h.refreshEmbed(ctx, p)
	return nil
}

// matchOption resolves which poll option index raw's emoji refers to, the
// same resolution order the safeguard already applies per option.
func matchOption(p *poll.Poll, raw string) (int, bool) {
	for i, configured := range p.Emojis {
		if emoji.Resolve(configured, i) == raw {
			return i, true
		}
	}
	return 0, false
}

func (h *Handler) notifyRejected(ctx context.Context, p *poll.Poll, userID chatplatform.UserID, cause error) {
	embed := chatplatform.Embed{
		Title:       "Vote not recorded",
		Description: "\"" + p.Question + "\": " + cause.Error(),
	}
	if err := h.chat.SendDM(ctx, userID, embed); err != nil {
		h.log.Info().Err(err).Int64("poll_id", p.ID).Msg("reaction: rejection DM failed")
	}
}

func (h *Handler) refreshEmbed(ctx context.Context, p *poll.Poll) {
	tally, err := h.store.Tally(ctx, p.ID, len(p.Options))
	if err != nil {
		return
	}
	embed := render.Live(p, tally)
	if _, err := h.chat.EditMessage(ctx, chatplatform.ChannelID(p.ChannelID), chatplatform.MessageID(p.MessageID), embed); err != nil {
		h.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("reaction: failed to refresh embed")
	}
}
