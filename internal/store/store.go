// Package store is the persistence layer (C2): a transactional store for
// polls, votes, users, preferences, and the guild/channel cache, built on
// go.mau.fi/util/dbutil's *dbutil.Database wrapper rather than raw
// database/sql. dbutil handles placeholder translation and query logging;
// this package owns the Poll/Vote schema and every typed safe accessor
// over it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/util/ptr"

	"github.com/pollbot/pollbot/internal/poll"
)

// Store is a single persistence layer instance shared by every lifecycle
// service. Individual operations scope a session by borrowing a pooled
// connection for the duration of one logical operation (one request or one
// job); nothing holds a connection across a suspension point belonging to
// independent work.
type Store struct {
	db        *dbutil.Database
	cacheDir  string
	log       zerolog.Logger
}

// Open opens (creating if necessary) the sqlite database at path, applies
// any pending migrations, and returns a ready Store. cacheDir is the
// on-disk ephemeral-file directory wiped on every migration, since its
// contents are reconstructed from the database on demand.
func Open(ctx context.Context, path, cacheDir string, log zerolog.Logger) (*Store, error) {
	rawDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	rawDB.SetMaxOpenConns(1) // sqlite3 + WAL: serialize writers, matching dbutil's recommended single-writer pattern
	db, err := dbutil.NewWithDB(rawDB, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("wrapping sqlite database: %w", err)
	}

	st := &Store{db: db, cacheDir: cacheDir, log: log}
	globalCacheDir = cacheDir
	if err := applyMigrations(ctx, db, log); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return st, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.RawDB.Close()
}

// globalCacheDir is read by wipeCacheDir, which migrations.go calls after a
// successful migration run; it's set once at Open and never mutated
// concurrently with migrations (migrations only ever run at startup).
var globalCacheDir string

func wipeCacheDir(log zerolog.Logger) {
	if globalCacheDir == "" {
		return
	}
	entries, err := os.ReadDir(globalCacheDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", globalCacheDir).Msg("store: failed to read cache dir for wipe")
		}
		return
	}
	for _, entry := range entries {
		full := filepath.Join(globalCacheDir, entry.Name())
		if err := os.RemoveAll(full); err != nil {
			log.Warn().Err(err).Str("path", full).Msg("store: failed to remove stale cache entry")
		}
	}
	log.Info().Str("dir", globalCacheDir).Int("entries", len(entries)).Msg("store: wiped cache directory after migration")
}

// WithTx runs fn in a single transaction, rolling back on any returned
// error. Every multi-row write in this package goes through this.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.DoTxn(ctx, nil, fn)
}

// nullTime, nullString and nullInt give total-function defaults for columns
// that might be NULL: each column is carried as a nil-able pointer between
// the sql.Null* scan result and the exported zero-value default, via the
// same ptr.Ptr/ptr.Val round-trip used for every other nullable field in
// this package.
func nullString(v sql.NullString) string {
	var p *string
	if v.Valid {
		p = ptr.Ptr(v.String)
	}
	return ptr.Val(p)
}

func nullTime(v sql.NullTime) time.Time {
	var p *time.Time
	if v.Valid {
		p = ptr.Ptr(v.Time)
	}
	return ptr.Val(p)
}

func nullInt(v sql.NullInt64) int {
	var p *int64
	if v.Valid {
		p = ptr.Ptr(v.Int64)
	}
	return int(ptr.Val(p))
}
