package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/layoutstore"
)

// LayoutConsumer keeps the layout store in step with the canvas: committed
// drags are saved, removed models forgotten, and optimistic ids rekeyed.
// Intermediate drag moves are not written.
type LayoutConsumer struct {
	store layoutstore.Store
}

func NewLayoutConsumer(store layoutstore.Store) *LayoutConsumer {
	return &LayoutConsumer{store: store}
}

func (c *LayoutConsumer) HandleEvent(ctx context.Context, evt event.CanvasEvent) error {
	switch evt.EventType {
	case event.PositionCommitted:
		var p event.PositionPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode position: %w", err)
		}
		return c.store.Save(ctx, evt.ProjectID, p.ModelID, p.Position)

	case event.ModelRemoved:
		var p event.ModelPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode model: %w", err)
		}
		return c.store.Delete(ctx, evt.ProjectID, p.Model.ID)

	case event.ModelRekeyed:
		var p event.RekeyPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode rekey: %w", err)
		}
		return c.store.Rekey(ctx, evt.ProjectID, p.OldID, p.NewID)
	}
	return nil
}
