// Package activity records a per-project history of canvas changes and
// serves it back filtered and paginated, newest first.
package activity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one history row. An event touching several entities becomes one
// entry per entity so each can be queried directly.
type Entry struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	ProjectID  string          `json:"project_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	EntityKind string          `json:"entity_kind,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	EntityRole string          `json:"entity_role,omitempty"`
	Summary    string          `json:"summary"`
	Category   string          `json:"category"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// QueryOptions controls filtering and pagination for project history.
type QueryOptions struct {
	Since      *time.Time
	Until      *time.Time
	Categories []string // graph, layout, sync
	EntityKind string   // model, field, relationship
	EntityID   string
	Limit      int    // default 100, max 500
	Cursor     string // occurred_at of the last entry of the previous page
}

// SearchOptions controls summary search.
type SearchOptions struct {
	Categories []string
	Limit      int // default 20
}

const (
	defaultLimit       = 100
	maxLimit           = 500
	defaultSearchLimit = 20
)

func (o QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > maxLimit {
		return defaultLimit
	}
	return o.Limit
}

func (o SearchOptions) limit() int {
	if o.Limit <= 0 || o.Limit > maxLimit {
		return defaultSearchLimit
	}
	return o.Limit
}

func parseCursor(c string) (time.Time, bool, error) {
	if c == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, c)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid cursor %q: %w", c, err)
	}
	return t, true, nil
}

func formatCursor(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
