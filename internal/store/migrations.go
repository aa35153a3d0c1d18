package store

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migration is one forward-only schema step: a version, a human name, and
// the literal SQL statements to run. Migrations are never edited once
// shipped; a new behavior is a new, higher-numbered file.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

var migrationFilePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("migration file %s has a non-numeric version: %w", entry.Name(), err)
		}
		raw, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, migration{
			Version:    version,
			Name:       strings.ReplaceAll(match[2], "_", " "),
			Statements: splitStatements(string(raw)),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// splitStatements does a plain semicolon split and strips leading `--`
// comment lines from each statement. The migration files in this
// package never need a semicolon inside a string literal or trigger body,
// so this stays intentionally simple rather than pulling in a SQL parser.
func splitStatements(raw string) []string {
	var out []string
	for _, stmt := range strings.Split(raw, ";") {
		trimmed := strings.TrimSpace(stmt)
		for strings.HasPrefix(trimmed, "--") {
			nl := strings.IndexByte(trimmed, '\n')
			if nl < 0 {
				trimmed = ""
				break
			}
			trimmed = strings.TrimSpace(trimmed[nl+1:])
		}
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

var addColumnPattern = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+\S+\s+ADD\s+COLUMN\b`)

func isAddColumn(stmt string) bool {
	return addColumnPattern.MatchString(strings.TrimSpace(stmt))
}

// isDuplicateColumnError reports whether err is sqlite's "column already
// exists" error, the signal that an ADD COLUMN migration is being replayed
// against a database that already has it (e.g. after a ledger/schema
// introspection mismatch). Matched by message since mattn/go-sqlite3
// doesn't expose a typed sentinel for this.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name")
}

// applyMigrations runs every migration with Version greater than the
// current ledger version, in order, each in its own transaction. ALTER-ADD-
// COLUMN statements that fail with "duplicate column name" are skipped
// rather than aborting the migration, making the whole sequence safe to
// replay against a database whose schema was introspected rather than
// tracked.
func applyMigrations(ctx context.Context, db *dbutil.Database, log zerolog.Logger) error {
	if err := ensureLedger(ctx, db); err != nil {
		return err
	}
	current, err := currentLedgerVersion(ctx, db)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.DoTxn(ctx, nil, func(ctx context.Context) error {
			for _, stmt := range m.Statements {
				_, execErr := db.Exec(ctx, stmt)
				if execErr != nil {
					if isAddColumn(stmt) && isDuplicateColumnError(execErr) {
						log.Debug().Int("version", m.Version).Str("statement", stmt).Msg("store: add-column migration already applied, skipping")
						continue
					}
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, execErr)
				}
			}
			_, err := db.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		}); err != nil {
			return err
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("store: applied migration")
		applied++
	}
	if applied > 0 {
		wipeCacheDir(log)
	}
	return nil
}

func ensureLedger(ctx context.Context, db *dbutil.Database) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// currentLedgerVersion reads the highest applied version from the ledger.
// If the ledger is empty on a database that already has the polls table
// (e.g. restored from an older snapshot before the ledger existed), the
// version is detected from schema introspection instead of assumed to be
// zero.
func currentLedgerVersion(ctx context.Context, db *dbutil.Database) (int, error) {
	row := db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("reading migration ledger: %w", err)
	}
	if version > 0 {
		return version, nil
	}
	hasPolls, err := tableExists(ctx, db, "polls")
	if err != nil {
		return 0, err
	}
	if hasPolls {
		// Schema predates the ledger; 0001 created it, so treat it as applied
		// and let any later migrations run forward from there.
		return 1, nil
	}
	return 0, nil
}

func tableExists(ctx context.Context, db *dbutil.Database, name string) (bool, error) {
	row := db.QueryRow(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=$1`, name)
	var found string
	err := row.Scan(&found)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return found != "", nil
}
