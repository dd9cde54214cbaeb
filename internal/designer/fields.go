package designer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/store"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

type fieldRemoval struct {
	modelID string
	field   types.Field
	index   int
	cleared []clearedField
}

func validateFieldPatch(p types.FieldPatch) error {
	if p.FieldType != nil && !p.FieldType.Known() {
		return store.InvalidInput(fmt.Errorf("unknown field type %q", *p.FieldType))
	}
	if p.RelationshipData != nil && !p.RelationshipData.RelationshipType.Valid() {
		return store.InvalidInput(fmt.Errorf("unknown relationship type %q", p.RelationshipData.RelationshipType))
	}
	if p.MaxLength != nil && *p.MaxLength <= 0 {
		return store.InvalidInput(fmt.Errorf("max_length must be positive"))
	}
	return nil
}

// AddField appends a field with a temporary id and sends the create once
// the owning model is persisted.
func (d *Designer) AddField(modelID string, in types.FieldInput) (types.Field, error) {
	if err := types.Validate(in); err != nil {
		return types.Field{}, store.InvalidInput(err)
	}
	if err := validateFieldPatch(types.FieldPatch{FieldType: &in.FieldType, RelationshipData: in.RelationshipData}); err != nil {
		return types.Field{}, err
	}

	var out types.Field
	err := d.do(func() error {
		modelID := d.resolveID(modelID)
		m, ok := d.store.Model(modelID)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrModelNotFound, modelID)
		}
		if in.Order == 0 {
			in.Order = len(m.Fields)
		}
		f := in.Field(newTempID())
		before := d.relIndex()
		if err := d.store.AddField(modelID, f); err != nil {
			return err
		}
		d.emit(event.NewFieldAdded(d.projectID, event.FieldPayload{ModelID: modelID, Field: f}))
		d.diffRelationships(before, true)
		d.touch(fieldKey(f.ID))

		tmp, body := f.ID, in
		d.whenPersisted(modelID, func(pid string) {
			if _, _, ok := d.store.Field(pid, tmp); !ok {
				d.abandon(tmp)
				delete(d.orphans, tmp)
				return
			}
			d.enqueue(func() { d.sendCreateField(pid, tmp, body) })
		})
		out = f
		return nil
	})
	return out, err
}

func (d *Designer) sendCreateField(modelID, tmp string, in types.FieldInput) {
	created, err := d.gw.CreateField(context.Background(), d.projectID, modelID, in)
	_ = d.do(func() error {
		if err != nil {
			d.createFieldFailed(modelID, tmp, err)
			return nil
		}
		d.fieldCreated(modelID, tmp, created)
		return nil
	})
}

// fieldCreated swaps the optimistic field for the authoritative one.
// Callers hold mu.
func (d *Designer) fieldCreated(modelID, tmp string, created types.Field) {
	d.syncSucceeded(gateway.OpCreateField, "field", created.ID)

	modelID = d.resolveID(modelID)
	cur, _, ok := d.store.Field(modelID, tmp)
	if !ok {
		d.persisted(tmp, created.ID)
		if d.orphans[tmp] {
			delete(d.orphans, tmp)
			id := created.ID
			d.enqueue(func() { d.sendDeleteField(modelID, id, nil) })
		}
		return
	}

	merged := created.Clone()
	if _, pending := d.fieldEdits[tmp]; pending {
		merged = cur.Clone()
		merged.ID = created.ID
	}

	before := d.relIndex()
	if _, err := d.store.ReplaceField(modelID, tmp, merged); err != nil {
		d.logger.Warn("replace optimistic field", zap.String("field", tmp), zap.Error(err))
		return
	}
	d.rekeyVersion(fieldKey(tmp), fieldKey(created.ID))
	if e, ok := d.fieldEdits[tmp]; ok {
		delete(d.fieldEdits, tmp)
		d.fieldEdits[created.ID] = e
	}
	d.emit(event.NewFieldRekeyed(d.projectID, event.RekeyPayload{ModelID: modelID, OldID: tmp, NewID: created.ID}))
	d.diffRelationships(before, true)
	d.persisted(tmp, created.ID)
}

// createFieldFailed removes the optimistic field. Callers hold mu.
func (d *Designer) createFieldFailed(modelID, tmp string, err error) {
	d.abandon(tmp)
	delete(d.orphans, tmp)
	modelID = d.resolveID(modelID)
	rolledBack := false
	if _, _, ok := d.store.Field(modelID, tmp); ok {
		if _, rerr := d.removeFieldLocal(modelID, tmp); rerr == nil {
			rolledBack = true
		}
	}
	d.syncFailed(gateway.OpCreateField, "field", tmp, err, rolledBack)
}

// UpdateField applies a partial field update locally. Renames cascade to
// relationship endpoints and referencing fields. Attribute edits are
// debounced; a relationship_data change is sent right away together with
// any pending edits of the field.
func (d *Designer) UpdateField(modelID, fieldID string, patch types.FieldPatch) (types.Field, error) {
	if err := validateFieldPatch(patch); err != nil {
		return types.Field{}, err
	}

	var out types.Field
	err := d.do(func() error {
		mid, fid, ok := d.locateField(modelID, fieldID)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrFieldNotFound, fieldID)
		}
		base, _, _ := d.store.Field(mid, fid)
		before := d.relIndex()
		updated, c, err := d.store.UpdateField(mid, fid, patch)
		if err != nil {
			return err
		}
		_, removed := d.diffRelationships(before, false)
		d.emit(event.NewFieldUpdated(d.projectID, event.FieldPayload{
			ModelID:       mid,
			Field:         updated,
			Relationships: relationshipIDs(removed),
			Cascaded:      c.Retargeted,
		}))
		d.diffRelationships(before, true)

		immediate := patch.RelationshipData != nil || patch.ClearRelationship
		d.recordFieldEdit(mid, fid, base, patch, c.Retargeted, immediate)
		out = updated
		return nil
	})
	return out, err
}

// DeleteField removes a field, the relationships touching it and the
// relationship_data pointing at it, then sends the delete.
func (d *Designer) DeleteField(modelID, fieldID string) error {
	return d.do(func() error {
		mid, fid, ok := d.locateField(modelID, fieldID)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrFieldNotFound, fieldID)
		}
		r, err := d.removeFieldLocal(mid, fid)
		if err != nil {
			return err
		}
		if IsTemporary(fid) {
			d.orphans[fid] = true
			for _, c := range r.cleared {
				d.syncFieldRelationship(c.ref)
			}
			return nil
		}
		d.touch(fieldKey(fid))
		d.enqueue(func() { d.sendDeleteField(mid, fid, r) })
		return nil
	})
}

func (d *Designer) sendDeleteField(modelID, fieldID string, r *fieldRemoval) {
	err := d.gw.DeleteField(context.Background(), d.projectID, modelID, fieldID)
	_ = d.do(func() error {
		if err != nil {
			rolledBack := false
			if r != nil {
				rolledBack = d.restoreField(r) == nil
			}
			d.syncFailed(gateway.OpDeleteField, "field", fieldID, err, rolledBack)
			return nil
		}
		d.syncSucceeded(gateway.OpDeleteField, "field", fieldID)
		if r != nil {
			for _, c := range r.cleared {
				d.syncFieldRelationship(c.ref)
			}
		}
		return nil
	})
}

// removeFieldLocal deletes a field from the store. Callers hold mu.
func (d *Designer) removeFieldLocal(modelID, fieldID string) (*fieldRemoval, error) {
	st := d.store.Snapshot()
	before := d.relIndex()
	removed, index, c, err := d.store.RemoveField(modelID, fieldID)
	if err != nil {
		return nil, err
	}
	r := &fieldRemoval{modelID: modelID, field: removed, index: index}
	for _, ref := range c.Cleared {
		if rd := relationshipDataIn(st.Models, ref); rd != nil {
			r.cleared = append(r.cleared, clearedField{ref: ref, data: *rd})
		}
	}

	d.debouncer.Cancel(fieldKey(fieldID))
	delete(d.fieldEdits, fieldID)
	_, gone := d.diffRelationships(before, false)
	d.emit(event.NewFieldRemoved(d.projectID, event.FieldPayload{
		ModelID:       modelID,
		Field:         removed,
		Relationships: relationshipIDs(gone),
		Cascaded:      c.Cleared,
	}))
	d.diffRelationships(before, true)
	for _, ref := range c.Cleared {
		if f, _, ok := d.store.Field(ref.ModelID, ref.FieldID); ok {
			d.emit(event.NewFieldUpdated(d.projectID, event.FieldPayload{ModelID: ref.ModelID, Field: f}))
		}
	}
	return r, nil
}

// restoreField undoes removeFieldLocal. Callers hold mu.
func (d *Designer) restoreField(r *fieldRemoval) error {
	modelID := d.resolveID(r.modelID)
	if _, _, ok := d.store.Field(modelID, r.field.ID); ok {
		return fmt.Errorf("field %s already present", r.field.ID)
	}
	before := d.relIndex()
	if err := d.store.InsertField(modelID, r.index, r.field); err != nil {
		return err
	}
	d.emit(event.NewFieldAdded(d.projectID, event.FieldPayload{ModelID: modelID, Field: r.field}))
	d.diffRelationships(before, true)
	for _, c := range r.cleared {
		if f, _, ok := d.store.Field(c.ref.ModelID, c.ref.FieldID); ok && f.RelationshipData == nil {
			rd := c.data
			if _, err := d.applyFieldPatch(c.ref.ModelID, c.ref.FieldID, types.FieldPatch{RelationshipData: &rd}); err != nil {
				d.logger.Warn("restore relationship", zap.String("field", c.ref.FieldID), zap.Error(err))
			}
		}
	}
	return nil
}
