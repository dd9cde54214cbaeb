package designer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/store"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// clearedField remembers relationship_data removed by a cascade so a failed
// delete can put it back.
type clearedField struct {
	ref  types.FieldRef
	data types.RelationshipData
}

// modelRemoval is what a local model delete took away.
type modelRemoval struct {
	model   types.Model
	index   int
	pos     types.Position
	hadPos  bool
	cleared []clearedField
}

// AddModel creates a model with a temporary id, places it on the canvas
// and sends the create. The authoritative model replaces it on success; a
// failure removes it again.
func (d *Designer) AddModel(in types.ModelInput) (types.Model, error) {
	if strings.TrimSpace(in.Name) == "" {
		return types.Model{}, store.EmptyModelName("")
	}
	if err := types.Validate(in); err != nil {
		return types.Model{}, store.InvalidInput(err)
	}

	var out types.Model
	err := d.do(func() error {
		index := len(d.store.ModelIDs())
		if in.Order == 0 {
			in.Order = index
		}
		m := types.Model{
			ID:          newTempID(),
			Name:        in.Name,
			Description: in.Description,
			Order:       in.Order,
			Fields:      []types.Field{},
		}
		before := d.relIndex()
		if err := d.store.AddModel(m); err != nil {
			return err
		}
		d.emit(event.NewModelAdded(d.projectID, event.ModelPayload{Model: m}))
		d.layout.Place(m.ID, index)
		d.diffRelationships(before, true)
		d.touch(modelKey(m.ID))

		tmp, body := m.ID, in
		d.enqueue(func() { d.sendCreateModel(tmp, body) })
		out = m
		return nil
	})
	return out, err
}

func (d *Designer) sendCreateModel(tmp string, in types.ModelInput) {
	created, err := d.gw.CreateModel(context.Background(), d.projectID, in)
	_ = d.do(func() error {
		if err != nil {
			d.createModelFailed(tmp, err)
			return nil
		}
		d.modelCreated(tmp, created)
		return nil
	})
}

// modelCreated swaps the optimistic model for the authoritative one.
// Local edits made while the create was in flight win over the response.
// Callers hold mu.
func (d *Designer) modelCreated(tmp string, created types.Model) {
	d.syncSucceeded(gateway.OpCreateModel, "model", created.ID)

	cur, ok := d.store.Model(tmp)
	if !ok {
		d.persisted(tmp, created.ID)
		if d.orphans[tmp] {
			delete(d.orphans, tmp)
			id := created.ID
			d.enqueue(func() { d.sendDeleteModel(id, nil) })
		}
		return
	}

	merged := created.Clone()
	if _, pending := d.modelEdits[tmp]; pending {
		merged.Name = cur.Name
		merged.Description = cur.Description
	}
	for _, f := range cur.Fields {
		if merged.FieldIndex(f.Name) < 0 {
			merged.Fields = append(merged.Fields, f)
		}
	}
	if merged.Fields == nil {
		merged.Fields = []types.Field{}
	}

	before := d.relIndex()
	if _, err := d.store.ReplaceModel(tmp, merged); err != nil {
		d.logger.Warn("replace optimistic model", zap.String("model", tmp), zap.Error(err))
		return
	}
	d.layout.Rekey(tmp, created.ID)
	d.machine.Rekey(types.ItemModel, tmp, created.ID)
	d.rekeyVersion(modelKey(tmp), modelKey(created.ID))
	if e, ok := d.modelEdits[tmp]; ok {
		delete(d.modelEdits, tmp)
		d.modelEdits[created.ID] = e
	}
	for _, e := range d.fieldEdits {
		if e.modelID == tmp {
			e.modelID = created.ID
		}
	}
	d.emit(event.NewModelRekeyed(d.projectID, event.RekeyPayload{OldID: tmp, NewID: created.ID}))
	d.diffRelationships(before, true)
	d.persisted(tmp, created.ID)
}

// createModelFailed removes the optimistic model. Callers hold mu.
func (d *Designer) createModelFailed(tmp string, err error) {
	d.abandon(tmp)
	delete(d.orphans, tmp)
	rolledBack := false
	if _, ok := d.store.Model(tmp); ok {
		if _, rerr := d.removeModelLocal(tmp); rerr == nil {
			rolledBack = true
		}
	}
	d.syncFailed(gateway.OpCreateModel, "model", tmp, err, rolledBack)
}

// RenameModel renames a model. Relationship endpoints and referencing
// fields follow the new name immediately; the backend update is debounced.
func (d *Designer) RenameModel(id, name string) (types.Model, error) {
	return d.UpdateModel(id, types.ModelPatch{Name: &name})
}

// UpdateModel applies a partial update locally and schedules a debounced
// sync of the merged batch.
func (d *Designer) UpdateModel(id string, patch types.ModelPatch) (types.Model, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return types.Model{}, store.EmptyModelName(id)
	}
	if patch.Name != nil && len(*patch.Name) > 255 {
		return types.Model{}, store.InvalidInput(fmt.Errorf("model name longer than 255 characters"))
	}

	var out types.Model
	err := d.do(func() error {
		id := d.resolveID(id)
		base, ok := d.store.Model(id)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrModelNotFound, id)
		}
		before := d.relIndex()
		updated, c, err := d.store.UpdateModel(id, patch)
		if err != nil {
			return err
		}
		_, removed := d.diffRelationships(before, false)
		d.emit(event.NewModelUpdated(d.projectID, event.ModelPayload{
			Model:         updated,
			Relationships: relationshipIDs(removed),
			Cascaded:      c.Retargeted,
		}))
		d.diffRelationships(before, true)
		d.recordModelEdit(id, base, patch, c.Retargeted)
		out = updated
		return nil
	})
	return out, err
}

// DeleteModel removes a model, its relationships and inbound references,
// then sends the delete. Fields of other models whose relationship_data
// was cleared are synced once the delete succeeds.
func (d *Designer) DeleteModel(id string) error {
	return d.do(func() error { return d.deleteModel(id) })
}

// deleteModel is DeleteModel for callers that hold mu.
func (d *Designer) deleteModel(id string) error {
	id = d.resolveID(id)
	r, err := d.removeModelLocal(id)
	if err != nil {
		return err
	}
	if IsTemporary(id) {
		// Never persisted yet: delete it once the create returns.
		d.orphans[id] = true
		for _, c := range r.cleared {
			d.syncFieldRelationship(c.ref)
		}
		return nil
	}
	d.touch(modelKey(id))
	d.enqueue(func() { d.sendDeleteModel(id, r) })
	return nil
}

func (d *Designer) sendDeleteModel(id string, r *modelRemoval) {
	err := d.gw.DeleteModel(context.Background(), d.projectID, id)
	_ = d.do(func() error {
		if err != nil {
			rolledBack := false
			if r != nil {
				if _, exists := d.store.Model(id); !exists {
					rolledBack = d.restoreModel(r) == nil
				}
			}
			d.syncFailed(gateway.OpDeleteModel, "model", id, err, rolledBack)
			return nil
		}
		d.syncSucceeded(gateway.OpDeleteModel, "model", id)
		if r != nil {
			for _, c := range r.cleared {
				d.syncFieldRelationship(c.ref)
			}
		}
		return nil
	})
}

// removeModelLocal deletes a model from the store and the canvas and drops
// its pending edits. Callers hold mu.
func (d *Designer) removeModelLocal(id string) (*modelRemoval, error) {
	st := d.store.Snapshot()
	r := &modelRemoval{index: -1}
	for i, m := range st.Models {
		if m.ID == id {
			r.index = i
		}
	}
	r.pos, r.hadPos = d.layout.Position(id)

	before := d.relIndex()
	removed, c, err := d.store.RemoveModel(id)
	if err != nil {
		return nil, err
	}
	r.model = removed
	for _, ref := range c.Cleared {
		if rd := relationshipDataIn(st.Models, ref); rd != nil {
			r.cleared = append(r.cleared, clearedField{ref: ref, data: *rd})
		}
	}

	d.dropModelEdits(removed)
	d.layout.Remove(id)
	d.machine.Forget(types.Selection{Kind: types.ItemModel, ID: id})
	_, gone := d.diffRelationships(before, false)
	d.emit(event.NewModelRemoved(d.projectID, event.ModelPayload{
		Model:         removed,
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

// restoreModel undoes removeModelLocal. Callers hold mu.
func (d *Designer) restoreModel(r *modelRemoval) error {
	before := d.relIndex()
	if err := d.store.InsertModel(r.index, r.model); err != nil {
		return err
	}
	d.emit(event.NewModelAdded(d.projectID, event.ModelPayload{Model: r.model}))
	if r.hadPos {
		d.layout.Set(r.model.ID, r.pos)
		// The removal already forgot the saved position.
		d.emit(event.NewPositionCommitted(d.projectID, event.PositionPayload{ModelID: r.model.ID, Position: r.pos}))
	} else {
		d.layout.Place(r.model.ID, r.index)
	}
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

// dropModelEdits cancels pending batches for a model and its fields.
func (d *Designer) dropModelEdits(m types.Model) {
	d.debouncer.Cancel(modelKey(m.ID))
	delete(d.modelEdits, m.ID)
	for _, f := range m.Fields {
		d.debouncer.Cancel(fieldKey(f.ID))
		delete(d.fieldEdits, f.ID)
	}
}

func relationshipDataIn(models []types.Model, ref types.FieldRef) *types.RelationshipData {
	for i := range models {
		if models[i].ID != ref.ModelID {
			continue
		}
		if f, _ := models[i].FieldByID(ref.FieldID); f != nil {
			return f.RelationshipData
		}
	}
	return nil
}
