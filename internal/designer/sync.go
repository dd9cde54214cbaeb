package designer

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/metrics"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// modelEdit is a batch of coalesced model edits awaiting sync. base is the
// model as it was before the first edit of the batch.
type modelEdit struct {
	base       types.Model
	patch      types.ModelPatch
	retargeted []types.FieldRef
}

// fieldEdit is a batch of coalesced field edits awaiting sync.
type fieldEdit struct {
	modelID    string
	base       types.Field
	patch      types.FieldPatch
	retargeted []types.FieldRef
}

// ── Models ──────────────────────────────────────────────────────────────────

// recordModelEdit merges patch into the model's pending batch and restarts
// its debounce window. Callers hold mu.
func (d *Designer) recordModelEdit(id string, base types.Model, patch types.ModelPatch, retargeted []types.FieldRef) {
	e, ok := d.modelEdits[id]
	if !ok {
		e = &modelEdit{base: base}
		d.modelEdits[id] = e
	}
	e.patch = e.patch.Merge(patch)
	e.retargeted = append(e.retargeted, retargeted...)
	d.touch(modelKey(id))
	d.debouncer.Trigger(modelKey(id), func() { d.flushModel(id) })
}

func (d *Designer) flushModel(id string) {
	_ = d.do(func() error {
		id := d.resolveID(id)
		e, ok := d.modelEdits[id]
		if !ok {
			return nil
		}
		if IsTemporary(id) {
			d.whenPersisted(id, func(pid string) {
				d.enqueue(func() { d.flushModel(pid) })
			})
			return nil
		}
		delete(d.modelEdits, id)
		version := d.versions[modelKey(id)]
		d.enqueue(func() { d.sendModelUpdate(id, version, e) })
		return nil
	})
}

func (d *Designer) sendModelUpdate(id string, version uint64, e *modelEdit) {
	m, err := d.gw.UpdateModel(context.Background(), d.projectID, id, e.patch)
	_ = d.do(func() error {
		if err != nil {
			d.modelUpdateFailed(id, version, e, err)
			return nil
		}
		d.syncSucceeded(gateway.OpUpdateModel, "model", id)
		if _, pending := d.modelEdits[id]; !pending {
			if cur, ok := d.store.Model(id); ok && (cur.Name != m.Name || cur.Description != m.Description) {
				if _, err := d.applyModelPatch(id, types.ModelPatch{Name: &m.Name, Description: &m.Description}); err != nil {
					d.logger.Warn("apply authoritative model", zap.String("model", id), zap.Error(err))
				}
			}
		}
		for _, ref := range e.retargeted {
			d.syncFieldRelationship(ref)
		}
		return nil
	})
}

// modelUpdateFailed rolls the batch back unless a newer edit superseded
// it. A batch still waiting to be sent absorbs the failed changes so they
// are retried with it. Callers hold mu.
func (d *Designer) modelUpdateFailed(id string, version uint64, e *modelEdit, err error) {
	superseded := d.versions[modelKey(id)] != version
	if next, ok := d.modelEdits[id]; ok {
		next.patch = e.patch.Merge(next.patch)
		next.base = e.base
		next.retargeted = append(append([]types.FieldRef(nil), e.retargeted...), next.retargeted...)
		superseded = true
	}
	rolledBack := false
	if !superseded {
		if _, ok := d.store.Model(id); ok {
			if _, rerr := d.applyModelPatch(id, fullModelPatch(e.base)); rerr == nil {
				rolledBack = true
			}
		}
	}
	d.syncFailed(gateway.OpUpdateModel, "model", id, err, rolledBack)
}

// applyModelPatch updates the store and emits the resulting events.
// Callers hold mu.
func (d *Designer) applyModelPatch(id string, patch types.ModelPatch) (types.Model, error) {
	before := d.relIndex()
	updated, c, err := d.store.UpdateModel(id, patch)
	if err != nil {
		return types.Model{}, err
	}
	_, removed := d.diffRelationships(before, false)
	d.emit(event.NewModelUpdated(d.projectID, event.ModelPayload{
		Model:         updated,
		Relationships: relationshipIDs(removed),
		Cascaded:      c.Retargeted,
	}))
	d.diffRelationships(before, true)
	return updated, nil
}

func fullModelPatch(m types.Model) types.ModelPatch {
	return types.ModelPatch{Name: types.Ptr(m.Name), Description: types.Ptr(m.Description)}
}

// ── Fields ──────────────────────────────────────────────────────────────────

// recordFieldEdit merges patch into the field's pending batch. Immediate
// batches skip the debounce window. Callers hold mu.
func (d *Designer) recordFieldEdit(modelID, fieldID string, base types.Field, patch types.FieldPatch, retargeted []types.FieldRef, immediate bool) {
	e, ok := d.fieldEdits[fieldID]
	if !ok {
		e = &fieldEdit{base: base}
		d.fieldEdits[fieldID] = e
	}
	e.modelID = modelID
	e.patch = e.patch.Merge(patch)
	e.retargeted = append(e.retargeted, retargeted...)
	d.touch(fieldKey(fieldID))

	key := fieldKey(fieldID)
	if immediate {
		d.debouncer.Cancel(key)
		d.enqueue(func() { d.flushField(fieldID) })
		return
	}
	d.debouncer.Trigger(key, func() { d.flushField(fieldID) })
}

func (d *Designer) flushField(fieldID string) {
	_ = d.do(func() error {
		fieldID := d.resolveID(fieldID)
		e, ok := d.fieldEdits[fieldID]
		if !ok {
			return nil
		}
		if IsTemporary(fieldID) {
			d.whenPersisted(fieldID, func(pid string) {
				d.enqueue(func() { d.flushField(pid) })
			})
			return nil
		}
		delete(d.fieldEdits, fieldID)
		modelID := d.resolveID(e.modelID)
		e.modelID = modelID
		version := d.versions[fieldKey(fieldID)]
		d.enqueue(func() { d.sendFieldUpdate(modelID, fieldID, version, e) })
		return nil
	})
}

func (d *Designer) sendFieldUpdate(modelID, fieldID string, version uint64, e *fieldEdit) {
	f, err := d.gw.UpdateField(context.Background(), d.projectID, modelID, fieldID, e.patch)
	_ = d.do(func() error {
		if err != nil {
			d.fieldUpdateFailed(modelID, fieldID, version, e, err)
			return nil
		}
		d.syncSucceeded(gateway.OpUpdateField, "field", fieldID)
		if _, pending := d.fieldEdits[fieldID]; !pending {
			if cur, _, ok := d.store.Field(modelID, fieldID); ok && !sameField(cur, f) {
				f.ID = fieldID
				if _, err := d.applyFieldPatch(modelID, fieldID, fullFieldPatch(f)); err != nil {
					d.logger.Warn("apply authoritative field", zap.String("field", fieldID), zap.Error(err))
				}
			}
		}
		for _, ref := range e.retargeted {
			d.syncFieldRelationship(ref)
		}
		return nil
	})
}

// fieldUpdateFailed mirrors modelUpdateFailed for fields. Callers hold mu.
func (d *Designer) fieldUpdateFailed(modelID, fieldID string, version uint64, e *fieldEdit, err error) {
	superseded := d.versions[fieldKey(fieldID)] != version
	if next, ok := d.fieldEdits[fieldID]; ok {
		next.patch = e.patch.Merge(next.patch)
		next.base = e.base
		next.retargeted = append(append([]types.FieldRef(nil), e.retargeted...), next.retargeted...)
		superseded = true
	}
	rolledBack := false
	if !superseded {
		if _, _, ok := d.store.Field(modelID, fieldID); ok {
			if _, rerr := d.applyFieldPatch(modelID, fieldID, fullFieldPatch(e.base)); rerr == nil {
				rolledBack = true
			}
		}
	}
	d.syncFailed(gateway.OpUpdateField, "field", fieldID, err, rolledBack)
}

// applyFieldPatch updates the store and emits the resulting events.
// Callers hold mu.
func (d *Designer) applyFieldPatch(modelID, fieldID string, patch types.FieldPatch) (types.Field, error) {
	before := d.relIndex()
	updated, c, err := d.store.UpdateField(modelID, fieldID, patch)
	if err != nil {
		return types.Field{}, err
	}
	_, removed := d.diffRelationships(before, false)
	d.emit(event.NewFieldUpdated(d.projectID, event.FieldPayload{
		ModelID:       modelID,
		Field:         updated,
		Relationships: relationshipIDs(removed),
		Cascaded:      c.Retargeted,
	}))
	d.diffRelationships(before, true)
	return updated, nil
}

// syncFieldRelationship sends a field's current relationship_data, used
// after a rename rewrote it locally. Callers hold mu.
func (d *Designer) syncFieldRelationship(ref types.FieldRef) {
	modelID, fieldID, ok := d.locateField(ref.ModelID, ref.FieldID)
	if !ok {
		return
	}
	cur, _, _ := d.store.Field(modelID, fieldID)
	patch := types.FieldPatch{ClearRelationship: true}
	if cur.RelationshipData != nil {
		rd := *cur.RelationshipData
		patch = types.FieldPatch{RelationshipData: &rd}
	}
	d.recordFieldEdit(modelID, fieldID, cur, patch, nil, true)
}

func fullFieldPatch(f types.Field) types.FieldPatch {
	p := types.FieldPatch{
		Name:         types.Ptr(f.Name),
		FieldType:    types.Ptr(f.FieldType),
		Null:         types.Ptr(f.Null),
		Blank:        types.Ptr(f.Blank),
		Unique:       types.Ptr(f.Unique),
		DefaultValue: types.Ptr(f.DefaultValue),
		HelpText:     types.Ptr(f.HelpText),
		Order:        types.Ptr(f.Order),
	}
	if f.MaxLength != nil {
		p.MaxLength = types.Ptr(*f.MaxLength)
	}
	if f.RelationshipData != nil {
		rd := *f.RelationshipData
		p.RelationshipData = &rd
	} else {
		p.ClearRelationship = true
	}
	return p
}

func sameField(a, b types.Field) bool {
	if a.Name != b.Name || a.FieldType != b.FieldType || a.Null != b.Null || a.Blank != b.Blank ||
		a.Unique != b.Unique || a.DefaultValue != b.DefaultValue || a.HelpText != b.HelpText || a.Order != b.Order {
		return false
	}
	if (a.MaxLength == nil) != (b.MaxLength == nil) || (a.MaxLength != nil && *a.MaxLength != *b.MaxLength) {
		return false
	}
	if (a.RelationshipData == nil) != (b.RelationshipData == nil) {
		return false
	}
	return a.RelationshipData == nil || *a.RelationshipData == *b.RelationshipData
}

// ── Relationship diff ───────────────────────────────────────────────────────

func (d *Designer) relIndex() map[string]types.Relationship {
	rels := d.store.Relationships()
	out := make(map[string]types.Relationship, len(rels))
	for _, r := range rels {
		out[r.ID] = r
	}
	return out
}

// diffRelationships compares the store against before. With emit set it
// publishes removals then additions and drops stale selections.
func (d *Designer) diffRelationships(before map[string]types.Relationship, emit bool) (added, removed []types.Relationship) {
	after := d.store.Relationships()
	seen := make(map[string]bool, len(after))
	for _, r := range after {
		seen[r.ID] = true
		if _, ok := before[r.ID]; !ok {
			added = append(added, r)
		}
	}
	ids := make([]string, 0, len(before))
	for id := range before {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		removed = append(removed, before[id])
	}
	if !emit {
		return added, removed
	}
	for _, r := range removed {
		d.machine.Forget(types.Selection{Kind: types.ItemRelationship, ID: r.ID})
		d.emit(event.NewRelationshipRemoved(d.projectID, r))
	}
	for _, r := range added {
		d.emit(event.NewRelationshipAdded(d.projectID, r))
	}
	return added, removed
}

// ── Outcome reporting ───────────────────────────────────────────────────────

func (d *Designer) syncSucceeded(op, kind, id string) {
	d.emit(event.NewSyncSucceeded(d.projectID, event.SyncPayload{Op: op, EntityKind: kind, EntityID: id}))
}

func (d *Designer) syncFailed(op, kind, id string, err error, rolledBack bool) {
	p := event.SyncPayload{
		Op:         op,
		EntityKind: kind,
		EntityID:   id,
		Message:    err.Error(),
		RolledBack: rolledBack,
	}
	if se, ok := gateway.AsSyncError(err); ok {
		p.StatusCode = se.StatusCode
		p.Message = se.Message
		p.Retryable = se.Retryable()
	}
	if rolledBack {
		metrics.SyncRollbacksTotal.WithLabelValues(op).Inc()
	}
	d.logger.Warn("sync failed",
		zap.String("op", op),
		zap.String(kind, id),
		zap.Bool("rolled_back", rolledBack),
		zap.Error(err))
	d.emit(event.NewSyncFailed(d.projectID, p))
}
