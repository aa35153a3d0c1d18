package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/pollerr"
)

// UpsertUser records or refreshes the cached identity for a chat-platform
// user, called whenever the bot observes one (vote, poll creation, command).
func (s *Store) UpsertUser(ctx context.Context, u poll.User) error {
	_, err := s.db.Exec(ctx, `INSERT INTO users (id, username, avatar, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, avatar = excluded.avatar, updated_at = CURRENT_TIMESTAMP`,
		u.ID, nullableStr(u.Username), nullableStr(u.Avatar))
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// GetUser loads a cached identity by id.
func (s *Store) GetUser(ctx context.Context, id string) (*poll.User, error) {
	row := s.db.QueryRow(ctx, `SELECT id, username, avatar, created_at, updated_at FROM users WHERE id = $1`, id)
	var (
		u                  poll.User
		username, avatar   sql.NullString
	)
	if err := row.Scan(&u.ID, &username, &avatar, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pollerr.New(pollerr.KindNotFound, "user not found")
		}
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	u.Username = nullString(username)
	u.Avatar = nullString(avatar)
	return &u, nil
}

// GetUserPreference loads a user's stored defaults, returning a zero-value
// UserPreference (DefaultTimezone "UTC") rather than a not-found error if the
// user has never set any, so the create-poll form can always pre-fill.
func (s *Store) GetUserPreference(ctx context.Context, userID string) (*poll.UserPreference, error) {
	row := s.db.QueryRow(ctx, `SELECT user_id, last_server_id, last_channel_id, default_timezone, timezone_explicitly_set, last_role_id, updated_at
		FROM user_preferences WHERE user_id = $1`, userID)
	var (
		pref                                         poll.UserPreference
		lastServer, lastChannel, lastRole            sql.NullString
	)
	err := row.Scan(&pref.UserID, &lastServer, &lastChannel, &pref.DefaultTimezone, &pref.TimezoneExplicitlySet, &lastRole, &pref.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &poll.UserPreference{UserID: userID, DefaultTimezone: "UTC"}, nil
		}
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	pref.LastServerID = nullString(lastServer)
	pref.LastChannelID = nullString(lastChannel)
	pref.LastRoleID = nullString(lastRole)
	return &pref, nil
}

// SaveUserPreference upserts a user's defaults, called after every
// successful poll creation so the next form pre-fills from it.
func (s *Store) SaveUserPreference(ctx context.Context, pref poll.UserPreference) error {
	_, err := s.db.Exec(ctx, `INSERT INTO user_preferences
		(user_id, last_server_id, last_channel_id, default_timezone, timezone_explicitly_set, last_role_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			last_server_id = excluded.last_server_id,
			last_channel_id = excluded.last_channel_id,
			default_timezone = excluded.default_timezone,
			timezone_explicitly_set = excluded.timezone_explicitly_set,
			last_role_id = excluded.last_role_id,
			updated_at = CURRENT_TIMESTAMP`,
		pref.UserID, nullableStr(pref.LastServerID), nullableStr(pref.LastChannelID),
		pref.DefaultTimezone, pref.TimezoneExplicitlySet, nullableStr(pref.LastRoleID))
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// UpsertGuild records or refreshes a server snapshot, called from the
// periodic guild/channel cache refresh.
func (s *Store) UpsertGuild(ctx context.Context, g poll.Guild) error {
	_, err := s.db.Exec(ctx, `INSERT INTO guilds (id, name, icon, owner_id, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, icon = excluded.icon, owner_id = excluded.owner_id, updated_at = CURRENT_TIMESTAMP`,
		g.ID, nullableStr(g.Name), nullableStr(g.Icon), nullableStr(g.OwnerID))
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// ListGuilds returns every cached server snapshot, used to populate the
// create-poll form's server picker.
func (s *Store) ListGuilds(ctx context.Context) ([]poll.Guild, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, icon, owner_id, updated_at FROM guilds ORDER BY name`)
	if err != nil {
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	defer rows.Close()
	var out []poll.Guild
	for rows.Next() {
		var (
			g                       poll.Guild
			name, icon, ownerID     sql.NullString
		)
		if err := rows.Scan(&g.ID, &name, &icon, &ownerID, &g.UpdatedAt); err != nil {
			return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
		}
		g.Name, g.Icon, g.OwnerID = nullString(name), nullString(icon), nullString(ownerID)
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertChannel records or refreshes a channel snapshot within a guild.
func (s *Store) UpsertChannel(ctx context.Context, c poll.Channel) error {
	_, err := s.db.Exec(ctx, `INSERT INTO channels (id, guild_id, name, type, position, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, type = excluded.type, position = excluded.position, updated_at = CURRENT_TIMESTAMP`,
		c.ID, c.GuildID, nullableStr(c.Name), nullableStr(c.Type), c.Position)
	if err != nil {
		return pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	return nil
}

// ListChannels returns every cached channel within guildID, ordered by
// position, for the create-poll form's channel picker.
func (s *Store) ListChannels(ctx context.Context, guildID string) ([]poll.Channel, error) {
	rows, err := s.db.Query(ctx, `SELECT id, guild_id, name, type, position, updated_at FROM channels WHERE guild_id = $1 ORDER BY position`, guildID)
	if err != nil {
		return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	defer rows.Close()
	var out []poll.Channel
	for rows.Next() {
		var (
			c           poll.Channel
			name, typ   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GuildID, &name, &typ, &c.Position, &c.UpdatedAt); err != nil {
			return nil, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
		}
		c.Name, c.Type = nullString(name), nullString(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}
