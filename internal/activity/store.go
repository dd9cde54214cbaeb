package activity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the interface for reading and writing history entries.
type Store interface {
	// WriteEntries writes entries, ignoring ones already stored.
	WriteEntries(ctx context.Context, entries []Entry) error

	// QueryByProject returns a page of a project's history, newest first.
	QueryByProject(ctx context.Context, projectID string, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)

	// Search matches summaries case-insensitively.
	Search(ctx context.Context, projectID, query string, opts SearchOptions) (entries []Entry, totalCount int, err error)

	Close() error
}

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Kind      string `validate:"oneof=memory sqlite"`
	SQLiteDSN string
}

// Open builds the configured store and prepares its schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		dsn := opts.SQLiteDSN
		if dsn == "" {
			dsn = "file:activity.db"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		db.SetMaxOpenConns(1)
		s := NewSQLiteStore(db)
		if err := s.CreateTable(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("create activity table: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown activity store %q", opts.Kind)
	}
}

// SQLiteStore implements Store on a SQLite table. Timestamps are stored as
// unix nanoseconds so they sort numerically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// CreateTable creates the activity_entries table and its indexes.
func (s *SQLiteStore) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activity_entries (
			project_id  TEXT NOT NULL,
			event_id    TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			entity_kind TEXT NOT NULL DEFAULT '',
			entity_id   TEXT NOT NULL DEFAULT '',
			entity_role TEXT NOT NULL DEFAULT '',
			summary     TEXT NOT NULL,
			category    TEXT NOT NULL,
			payload     BLOB,
			PRIMARY KEY (project_id, event_id, entity_kind, entity_id)
		);

		CREATE INDEX IF NOT EXISTS idx_activity_project_time
			ON activity_entries (project_id, occurred_at DESC);

		CREATE INDEX IF NOT EXISTS idx_activity_project_entity_time
			ON activity_entries (project_id, entity_kind, entity_id, occurred_at DESC);
	`)
	return err
}

const entryColumns = `event_id, event_type, project_id, occurred_at, entity_kind, entity_id,
	entity_role, summary, category, payload`

// WriteEntries inserts entries in one statement.
func (s *SQLiteStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO activity_entries (` + entryColumns + `) VALUES `)
	args := make([]any, 0, len(entries)*10)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.EventID, e.EventType, e.ProjectID, e.OccurredAt.UnixNano(), e.EntityKind, e.EntityID,
			e.EntityRole, e.Summary, e.Category, []byte(e.Payload),
		)
	}
	b.WriteString(" ON CONFLICT DO NOTHING")

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("write activity entries: %w", err)
	}
	return nil
}

// QueryByProject returns a page of entries with a cursor for the next one.
func (s *SQLiteStore) QueryByProject(ctx context.Context, projectID string, opts QueryOptions) ([]Entry, string, int, error) {
	cursor, hasCursor, err := parseCursor(opts.Cursor)
	if err != nil {
		return nil, "", 0, err
	}

	conditions := []string{"project_id = ?"}
	args := []any{projectID}
	if opts.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, opts.Until.UnixNano())
	}
	if len(opts.Categories) > 0 {
		conditions = append(conditions, inClause("category", len(opts.Categories)))
		for _, c := range opts.Categories {
			args = append(args, c)
		}
	}
	if opts.EntityKind != "" {
		conditions = append(conditions, "entity_kind = ?")
		args = append(args, opts.EntityKind)
	}
	if opts.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, opts.EntityID)
	}
	if hasCursor {
		conditions = append(conditions, "occurred_at < ?")
		args = append(args, cursor.UnixNano())
	}

	where := strings.Join(conditions, " AND ")
	limit := opts.limit()
	entries, err := s.query(ctx,
		`SELECT `+entryColumns+` FROM activity_entries WHERE `+where+
			` ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		append(args, limit+1)...)
	if err != nil {
		return nil, "", 0, err
	}

	var next string
	if len(entries) > limit {
		entries = entries[:limit]
		next = formatCursor(entries[len(entries)-1].OccurredAt)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, "", 0, fmt.Errorf("count activity entries: %w", err)
	}
	return entries, next, total, nil
}

// Search matches summaries with LIKE, which is case-insensitive for ASCII.
func (s *SQLiteStore) Search(ctx context.Context, projectID, query string, opts SearchOptions) ([]Entry, int, error) {
	conditions := []string{"project_id = ?", `summary LIKE '%' || ? || '%' ESCAPE '\'`}
	args := []any{projectID, escapeLike(query)}
	if len(opts.Categories) > 0 {
		conditions = append(conditions, inClause("category", len(opts.Categories)))
		for _, c := range opts.Categories {
			args = append(args, c)
		}
	}

	where := strings.Join(conditions, " AND ")
	entries, err := s.query(ctx,
		`SELECT `+entryColumns+` FROM activity_entries WHERE `+where+
			` ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		append(args, opts.limit())...)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity entries: %w", err)
	}
	return entries, total, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var payload []byte
		if err := rows.Scan(&e.EventID, &e.EventType, &e.ProjectID, &at, &e.EntityKind, &e.EntityID,
			&e.EntityRole, &e.Summary, &e.Category, &payload); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		e.OccurredAt = time.Unix(0, at).UTC()
		if len(payload) > 0 {
			e.Payload = payload
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func inClause(column string, n int) string {
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
