package activity

import (
	"context"

	"github.com/matthewbaird/schemacanvas/internal/event"
)

// Indexer turns canvas events into history entries. Drag moves, zoom and
// interaction-state events are not recorded; a committed position is.
type Indexer struct {
	store Store
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store Store) *Indexer {
	return &Indexer{store: store}
}

// HandleEvent indexes one event. It satisfies the event bus handler
// interface.
func (idx *Indexer) HandleEvent(ctx context.Context, evt event.CanvasEvent) error {
	if !Recorded(evt) {
		return nil
	}
	return idx.store.WriteEntries(ctx, Entries(evt))
}

// Recorded reports whether evt belongs in the history.
func Recorded(evt event.CanvasEvent) bool {
	switch evt.Category {
	case event.CategoryGraph, event.CategorySync:
		return true
	case event.CategoryLayout:
		return evt.EventType == event.PositionCommitted
	}
	return false
}

// Entries expands evt into one entry per affected entity, or a single
// project-level entry when it names none.
func Entries(evt event.CanvasEvent) []Entry {
	base := Entry{
		EventID:    evt.ID,
		EventType:  evt.EventType,
		ProjectID:  evt.ProjectID,
		OccurredAt: evt.OccurredAt,
		Summary:    evt.Summary,
		Category:   evt.Category,
		Payload:    evt.Payload,
	}
	if len(evt.Affected) == 0 {
		return []Entry{base}
	}
	out := make([]Entry, 0, len(evt.Affected))
	for _, ref := range evt.Affected {
		e := base
		e.EntityKind, e.EntityID, e.EntityRole = ref.Kind, ref.ID, ref.Role
		out = append(out, e)
	}
	return out
}
