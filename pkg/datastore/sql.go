package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.000000"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out journal providers over one SQLite database.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}
	// PRAGMAs are per connection
	DB.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Session close and timeout paths write concurrently
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(ctx); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT    NOT NULL CHECK(length(kind) > 0),
		conn_id    TEXT    NOT NULL DEFAULT '',
		user_id    INTEGER NOT NULL DEFAULT 0,
		username   TEXT    NOT NULL DEFAULT '',
		room_id    INTEGER NOT NULL DEFAULT 0,
		created_at TEXT    NOT NULL
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS events_kind ON events (kind)",
				"CREATE INDEX IF NOT EXISTS events_user ON events (user_id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Events ----

// CreateEvent inserts an event and sets its ID. A zero CreatedAt is
// replaced with the current time.
func (s *baseProvider) CreateEvent(ctx context.Context, event *model.Event) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("datastore: create event %q: %w", event.Kind, model.ErrInvalidEventKind)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	res, err := s.ExecContext(ctx,
		"INSERT INTO events (kind, conn_id, user_id, username, room_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(event.Kind), string(event.ConnID), int64(event.UserID), event.Username, int64(event.RoomID),
		formatDBTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("datastore: create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("datastore: create event: %w", err)
	}
	event.ID = id
	return nil
}

// ListEvents returns matching events, newest first. Limit 0 returns all.
func (s *baseProvider) ListEvents(ctx context.Context, filters model.EventFilters) ([]model.Event, error) {
	query := `
		SELECT id, kind, conn_id, user_id, username, room_id, created_at
		FROM events
		WHERE (? IS NULL OR kind = ?)
		AND (? IS NULL OR user_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`

	var kind, userID any
	if filters.Kind != nil {
		kind = string(*filters.Kind)
	}
	if filters.UserID != nil {
		userID = int64(*filters.UserID)
	}
	limit := -1
	if filters.Limit > 0 {
		limit = filters.Limit
	}

	rows, err := s.QueryContext(ctx, query, kind, kind, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		var (
			ev                   model.Event
			kindStr, connID, ts  string
			userIDInt, roomIDInt int64
		)
		if err := rows.Scan(&ev.ID, &kindStr, &connID, &userIDInt, &ev.Username, &roomIDInt, &ts); err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		parsed, err := parseDBTime(ts)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		ev.Kind = model.EventKind(kindStr)
		ev.ConnID = model.ConnID(connID)
		ev.UserID = uint64(userIDInt)
		ev.RoomID = uint64(roomIDInt)
		ev.CreatedAt = parsed
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns how many events of kind are stored.
func (s *baseProvider) CountEvents(ctx context.Context, kind model.EventKind) (int, error) {
	var n int
	if err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE kind = ?", string(kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count events: %w", err)
	}
	return n, nil
}

// DeleteEventsBefore removes events created strictly before the cutoff and
// returns how many were removed.
func (s *baseProvider) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", formatDBTime(before))
	if err != nil {
		return 0, fmt.Errorf("datastore: delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("datastore: delete events: %w", err)
	}
	return n, nil
}
