package layoutstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dsn with the pure-Go driver.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "file:layout.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// CreateTable creates the positions table if missing.
func (s *SQLiteStore) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS model_positions (
			project_id TEXT NOT NULL,
			model_id   TEXT NOT NULL,
			x          REAL NOT NULL,
			y          REAL NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (project_id, model_id)
		)`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, projectID string) (map[string]types.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, x, y FROM model_positions WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.Position)
	for rows.Next() {
		var id string
		var p types.Position
		if err := rows.Scan(&id, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out[id] = p
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, projectID, modelID string, pos types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_positions (project_id, model_id, x, y, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (project_id, model_id) DO UPDATE
		SET x = excluded.x, y = excluded.y, updated_at = excluded.updated_at`,
		projectID, modelID, pos.X, pos.Y)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, projectID, modelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM model_positions WHERE project_id = ? AND model_id = ?`, projectID, modelID)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Rekey(ctx context.Context, projectID, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rekey: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM model_positions WHERE project_id = ? AND model_id = ?`, projectID, newID); err != nil {
		return fmt.Errorf("clear rekey target: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE model_positions SET model_id = ? WHERE project_id = ? AND model_id = ?`,
		newID, projectID, oldID); err != nil {
		return fmt.Errorf("rekey position: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
