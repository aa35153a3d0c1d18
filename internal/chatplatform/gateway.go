package chatplatform

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// Gateway is the production push-notification path into the poll lifecycle:
// a long-lived websocket connection to the chat platform's event stream,
// decoding reaction-add frames and handing them to a ReactionHandler as
// they arrive. HTTPClient remains the request/response half of Client; this
// is the half that lets a vote register the moment a reaction lands instead
// of waiting for the safeguard's next sweep.
type Gateway struct {
	URL   string
	Token string
	log   zerolog.Logger

	dialTimeout time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

// NewGateway constructs a Gateway dialing url with token as a bearer
// credential.
func NewGateway(url, token string, log zerolog.Logger) *Gateway {
	return &Gateway{
		URL:         url,
		Token:       token,
		log:         log,
		dialTimeout: 10 * time.Second,
		minBackoff:  time.Second,
		maxBackoff:  30 * time.Second,
	}
}

type gatewayFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// Listen connects to the gateway and dispatches reaction_add frames to
// onReactionAdd until ctx is canceled. A dropped connection is reconnected
// with exponential backoff rather than propagated as a fatal error — the
// safeguard sweep covers the gap while Listen is reconnecting.
func (g *Gateway) Listen(ctx context.Context, onReactionAdd ReactionHandler) error {
	backoff := g.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := g.listenOnce(ctx, onReactionAdd); err != nil {
			g.log.Warn().Err(err).Dur("retry_in", backoff).Msg("chatplatform: gateway connection lost, reconnecting")
			if !g.wait(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > g.maxBackoff {
				backoff = g.maxBackoff
			}
			continue
		}
		backoff = g.minBackoff
	}
}

func (g *Gateway) listenOnce(ctx context.Context, onReactionAdd ReactionHandler) error {
	dialCtx, cancel := context.WithTimeout(ctx, g.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, g.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + g.Token}},
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	g.log.Info().Str("url", g.URL).Msg("chatplatform: gateway connected")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame gatewayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.log.Warn().Err(err).Msg("chatplatform: gateway sent an undecodable frame")
			continue
		}
		if frame.Type != "reaction_add" {
			continue
		}
		ev := ReactionAddEvent{
			Channel: ChannelID(frame.ChannelID),
			Message: MessageID(frame.MessageID),
			User:    UserID(frame.UserID),
			Emoji:   frame.Emoji,
		}
		if err := onReactionAdd(ctx, ev); err != nil {
			g.log.Warn().Err(err).Str("channel_id", frame.ChannelID).Str("message_id", frame.MessageID).Msg("chatplatform: reaction-add handler failed")
		}
	}
}

func (g *Gateway) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
