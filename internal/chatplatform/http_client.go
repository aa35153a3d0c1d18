package chatplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pollbot/pollbot/internal/pollerr"
)

// HTTPClient implements Client against a generic bot-API gateway: POST/PATCH
// for messages, PUT/DELETE for reactions, GET with cursor pagination for
// reaction users and channel history. It is the production backing for
// Client, talking to whatever base URL and bearer token config.ChatConfig
// supplies. Gateway, not HTTPClient, carries the companion push-event
// stream.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs a Client with sane request timeouts: a bounded
// per-request deadline rather than an unbounded http.DefaultClient.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pollerr.Wrap(pollerr.KindUnexpected, err, "")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return pollerr.Wrap(pollerr.KindUnexpected, err, "")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return pollerr.Wrap(pollerr.KindTransport, err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := 2 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
				delay = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: delay, Cause: fmt.Errorf("rate limited on %s %s", method, path)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return pollerr.New(pollerr.KindNotFound, "not found")
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return pollerr.New(pollerr.KindPermission, "bot lacks permission")
	}
	if resp.StatusCode >= 500 {
		return pollerr.Wrap(pollerr.KindTransport, fmt.Errorf("server error %d on %s %s", resp.StatusCode, method, path), "")
	}
	if resp.StatusCode >= 400 {
		return pollerr.Validationf("request rejected with status %d on %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) PostMessage(ctx context.Context, channel ChannelID, embed Embed, content string) (MessageID, error) {
	var result struct {
		ID string `json:"id"`
	}
	payload := map[string]any{"channel_id": channel, "embed": embed, "content": content}
	var msgID MessageID
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/messages", payload, &result)
	})
	if err != nil {
		return "", err
	}
	msgID = MessageID(result.ID)
	return msgID, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, channel ChannelID, message MessageID, embed Embed) (bool, error) {
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPatch, fmt.Sprintf("/channels/%s/messages/%s", channel, message), map[string]any{"embed": embed}, nil)
	})
	if pollerr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *HTTPClient) FetchMessage(ctx context.Context, channel ChannelID, message MessageID) (*Message, error) {
	var result Message
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/messages/%s", channel, message), nil, &result)
	})
	if err != nil {
		return nil, err
	}
	result.ID = message
	result.ChannelID = channel
	return &result, nil
}

func (c *HTTPClient) AddReaction(ctx context.Context, message MessageID, channel ChannelID, emoji string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me", channel, message, emoji), nil, nil)
		if pollerr.IsPermission(err) {
			return err
		}
		return err
	})
}

func (c *HTTPClient) ClearReactions(ctx context.Context, message MessageID, channel ChannelID) error {
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s/reactions", channel, message), nil, nil)
	})
	if pollerr.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *HTTPClient) RemoveReaction(ctx context.Context, message MessageID, channel ChannelID, emoji string, user UserID) error {
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/%s", channel, message, emoji, user), nil, nil)
	})
	if pollerr.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *HTTPClient) IterReactionUsers(ctx context.Context, message MessageID, channel ChannelID, emoji string) ReactionUserIter {
	var (
		cursor  string
		page    []UserID
		idx     int
		done    bool
		started bool
	)
	return func(ctx context.Context) (UserID, bool, error) {
		for idx >= len(page) && !done {
			var result struct {
				Users      []UserID `json:"users"`
				NextCursor string   `json:"next_cursor"`
			}
			path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s?after=%s", channel, message, emoji, cursor)
			if err := WithRetry(ctx, func(ctx context.Context) error {
				return c.do(ctx, http.MethodGet, path, nil, &result)
			}); err != nil {
				return "", false, err
			}
			started = true
			page = result.Users
			idx = 0
			cursor = result.NextCursor
			if cursor == "" || len(result.Users) == 0 {
				done = true
			}
		}
		if idx >= len(page) {
			_ = started
			return "", false, nil
		}
		user := page[idx]
		idx++
		return user, true, nil
	}
}

func (c *HTTPClient) FetchUser(ctx context.Context, user UserID) (*User, error) {
	var result User
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s", user), nil, &result)
	})
	if err != nil {
		return nil, err
	}
	result.ID = user
	return &result, nil
}

func (c *HTTPClient) SendDM(ctx context.Context, user UserID, embed Embed) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%s/dm", user), map[string]any{"embed": embed}, nil)
	})
}

func (c *HTTPClient) GetGuildRoles(ctx context.Context, guild string) ([]Role, error) {
	var result []Role
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/roles", guild), nil, &result)
	})
	if err != nil {
		return nil, err
	}
	pingable := result[:0]
	for _, r := range result {
		if r.Pingable {
			pingable = append(pingable, r)
		}
	}
	return pingable, nil
}

func (c *HTTPClient) ScanChannelHistory(ctx context.Context, channel ChannelID, limit int, match func(Message) bool) (*Message, error) {
	var result []Message
	err := WithRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/messages?limit=%d", channel, limit), nil, &result)
	})
	if err != nil {
		return nil, err
	}
	for _, msg := range result {
		if match(msg) {
			found := msg
			return &found, nil
		}
	}
	return nil, pollerr.New(pollerr.KindNotFound, "no matching message in recent channel history")
}
