package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/cmdrelay/internal/retry"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS command_audit (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		request_id TEXT,
		trace_id TEXT,
		command TEXT NOT NULL,
		alias TEXT,
		author_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		guild_id TEXT,
		outcome TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		error_message TEXT
	)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_command_audit_created ON command_audit(created_at)`

// SQLStore writes entries to a command_audit table. The same statements
// serve sqlite and postgres; only the placeholder style differs.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database. driver selects the placeholder
// style and must be DriverSQLite or DriverPostgres.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: db is required")
	}
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	return &SQLStore{db: db, dialect: driver}, nil
}

// Open connects to the database, retrying the initial ping, and creates
// the audit table if needed.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if dsn == "" {
		if driver != DriverSQLite {
			return nil, fmt.Errorf("audit: dsn is required for %s", driver)
		}
		dsn = "cmdrelay-audit.db"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time avoids SQLITE_BUSY under concurrent flushes.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 5
	policy.InitialDelay = 200 * time.Millisecond
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store, err := NewSQLStore(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the audit table and index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	return nil
}

// Record inserts one entry.
func (s *SQLStore) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO command_audit (id, created_at, request_id, trace_id, command, alias, author_id, channel_id, guild_id, outcome, duration_ms, error_message)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`),
		entry.ID,
		entry.Timestamp.UTC(),
		nullableString(entry.RequestID),
		nullableString(entry.TraceID),
		entry.Command,
		nullableString(entry.Alias),
		entry.AuthorID,
		entry.ChannelID,
		nullableString(entry.GuildID),
		entry.Outcome,
		entry.Duration.Milliseconds(),
		nullableString(entry.Error),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, created_at, request_id, trace_id, command, alias, author_id, channel_id, guild_id, outcome, duration_ms, error_message
		FROM command_audit
		ORDER BY created_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var requestID, traceID, alias, guildID, errMsg sql.NullString
		var durationMS int64
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&requestID,
			&traceID,
			&entry.Command,
			&alias,
			&entry.AuthorID,
			&entry.ChannelID,
			&guildID,
			&entry.Outcome,
			&durationMS,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.RequestID = requestID.String
		entry.TraceID = traceID.String
		entry.Alias = alias.String
		entry.GuildID = guildID.String
		entry.Error = errMsg.String
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
