package designer

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/interaction"
	"github.com/matthewbaird/schemacanvas/internal/layout"
	"github.com/matthewbaird/schemacanvas/internal/store"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// ── Interaction ─────────────────────────────────────────────────────────────

// State returns the interaction state.
func (d *Designer) State() interaction.State {
	return d.machine.State()
}

// interact runs fn under the lock and emits interaction_changed when the
// state moved.
func (d *Designer) interact(fn func() error) error {
	return d.do(func() error {
		prev := d.machine.State()
		err := fn()
		if next := d.machine.State(); !reflect.DeepEqual(prev, next) {
			d.emit(event.NewInteractionChanged(d.projectID, string(next.Kind), next))
		}
		return err
	})
}

// OpenPicker enters relationship mode, or leaves it when already there.
func (d *Designer) OpenPicker() error {
	return d.interact(d.machine.OpenPicker)
}

// ClosePicker dismisses the relationship type picker.
func (d *Designer) ClosePicker() error {
	return d.interact(func() error {
		d.machine.ClosePicker()
		return nil
	})
}

// ChooseType picks the cardinality of the relationship being drawn.
func (d *Designer) ChooseType(t types.RelationshipType) error {
	return d.interact(func() error { return d.machine.ChooseType(t) })
}

// ClickField selects a relationship endpoint. The second field creates the
// relationship.
func (d *Designer) ClickField(ref types.FieldRef) error {
	return d.interact(func() error {
		if d.machine.State().Kind != interaction.RelationshipSelecting {
			return nil
		}
		ref = d.resolveRef(ref)
		f, err := d.fieldByRef(ref)
		if err != nil {
			return err
		}
		ref.FieldID, ref.FieldName = f.ID, f.Name

		eff := d.machine.ClickField(ref)
		if c, ok := eff.(interaction.CreateRelationship); ok {
			_, err := d.createRelationship(c.From, c.To, c.Type)
			return err
		}
		return nil
	})
}

// ClickCanvas handles a click on the empty background.
func (d *Designer) ClickCanvas() error {
	return d.interact(func() error {
		d.machine.ClickCanvas()
		return nil
	})
}

// SelectModel selects a model card.
func (d *Designer) SelectModel(id string) error {
	return d.interact(func() error {
		id := d.resolveID(id)
		if _, ok := d.store.Model(id); !ok {
			return fmt.Errorf("%w: %s", store.ErrModelNotFound, id)
		}
		return d.machine.SelectModel(id)
	})
}

// SelectRelationship selects a relationship line.
func (d *Designer) SelectRelationship(id string) error {
	return d.interact(func() error {
		if _, ok := d.store.Relationship(id); !ok {
			return fmt.Errorf("%w: %s", store.ErrRelationshipNotFound, id)
		}
		return d.machine.SelectRelationship(id)
	})
}

// RequestDelete asks to delete the selected item.
func (d *Designer) RequestDelete() error {
	return d.interact(d.machine.RequestDelete)
}

// ConfirmDelete deletes the item awaiting confirmation.
func (d *Designer) ConfirmDelete() error {
	return d.interact(func() error {
		eff, err := d.machine.ConfirmDelete()
		if err != nil {
			return err
		}
		return d.applyDelete(eff)
	})
}

func (d *Designer) applyDelete(eff interaction.Effect) error {
	del, ok := eff.(interaction.Delete)
	if !ok {
		return nil
	}
	switch del.Item.Kind {
	case types.ItemModel:
		return d.deleteModel(del.Item.ID)
	case types.ItemRelationship:
		return d.deleteRelationship(del.Item.ID)
	}
	return nil
}

// CancelDelete backs out of the delete confirmation.
func (d *Designer) CancelDelete() error {
	return d.interact(d.machine.CancelDelete)
}

// PressKey handles a keyboard shortcut.
func (d *Designer) PressKey(key string, inputFocused bool) error {
	return d.interact(func() error { return d.machine.PressKey(key, inputFocused) })
}

// ── Pointer ─────────────────────────────────────────────────────────────────

// PointerDown starts dragging a model when the pointer is on its header.
func (d *Designer) PointerDown(modelID string, p types.Point) error {
	return d.do(func() error {
		return d.layout.BeginDrag(d.resolveID(modelID), p)
	})
}

// PointerMove moves the dragged model. Without a drag it does nothing.
func (d *Designer) PointerMove(p types.Point) error {
	return d.do(func() error {
		_, _, err := d.layout.MoveDrag(p)
		if errors.Is(err, layout.ErrNotDragging) {
			return nil
		}
		return err
	})
}

// PointerUp ends a drag and commits the final position.
func (d *Designer) PointerUp() error {
	return d.do(func() error {
		id, pos, err := d.layout.EndDrag()
		if errors.Is(err, layout.ErrNotDragging) {
			return nil
		}
		if err != nil {
			return err
		}
		d.emit(event.NewPositionCommitted(d.projectID, event.PositionPayload{ModelID: id, Position: pos}))
		return nil
	})
}

// ── Zoom ────────────────────────────────────────────────────────────────────

// Zoom returns the canvas zoom factor.
func (d *Designer) Zoom() float64 { return d.layout.Zoom() }

// ZoomIn steps the zoom up.
func (d *Designer) ZoomIn() float64 {
	return d.zoom(d.layout.ZoomIn)
}

// ZoomOut steps the zoom down.
func (d *Designer) ZoomOut() float64 {
	return d.zoom(d.layout.ZoomOut)
}

// SetZoom sets the zoom factor, clamped to the supported range.
func (d *Designer) SetZoom(z float64) float64 {
	return d.zoom(func() float64 { return d.layout.SetZoom(z) })
}

func (d *Designer) zoom(apply func() float64) float64 {
	var z float64
	if err := d.do(func() error {
		prev := d.layout.Zoom()
		z = apply()
		if z != prev {
			d.emit(event.NewZoomChanged(d.projectID, z))
		}
		return nil
	}); err != nil {
		return d.layout.Zoom()
	}
	return z
}
