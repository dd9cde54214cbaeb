// Package layoutstore persists model card positions on the client side of
// the backend. Positions are never sent to the persistence backend; they
// survive reloads through one of these stores.
package layoutstore

import (
	"context"
	"fmt"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Store reads and writes per-project position maps keyed by model id.
type Store interface {
	// Load returns every saved position for the project.
	Load(ctx context.Context, projectID string) (map[string]types.Position, error)

	// Save upserts one model's position.
	Save(ctx context.Context, projectID, modelID string, pos types.Position) error

	// Delete forgets one model's position.
	Delete(ctx context.Context, projectID, modelID string) error

	// Rekey moves a saved position from a temporary id to the persisted one.
	Rekey(ctx context.Context, projectID, oldID, newID string) error

	Close() error
}

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Kind          string `validate:"oneof=memory sqlite redis"`
	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the configured store and prepares its schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		s, err := OpenSQLite(opts.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if err := s.CreateTable(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("create layout table: %w", err)
		}
		return s, nil
	case KindRedis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	default:
		return nil, fmt.Errorf("unknown layout store %q", opts.Kind)
	}
}
