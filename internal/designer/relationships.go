package designer

import (
	"fmt"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/store"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// CreateRelationship connects two fields and persists the edge as the
// source field's relationship_data.
func (d *Designer) CreateRelationship(from, to types.FieldRef, typ types.RelationshipType) (types.Relationship, error) {
	var out types.Relationship
	err := d.do(func() error {
		rel, err := d.createRelationship(from, to, typ)
		out = rel
		return err
	})
	return out, err
}

// createRelationship is CreateRelationship for callers that hold mu.
func (d *Designer) createRelationship(from, to types.FieldRef, typ types.RelationshipType) (types.Relationship, error) {
	from, to = d.resolveRef(from), d.resolveRef(to)
	src, err := d.fieldByRef(from)
	if err != nil {
		return types.Relationship{}, err
	}

	before := d.relIndex()
	rel, _, err := d.store.AddRelationship(from, to, typ)
	if err != nil {
		return types.Relationship{}, err
	}
	updated, _, _ := d.store.Field(rel.From.ModelID, rel.From.FieldID)
	d.emit(event.NewFieldUpdated(d.projectID, event.FieldPayload{ModelID: rel.From.ModelID, Field: updated}))
	d.diffRelationships(before, true)

	d.recordFieldEdit(rel.From.ModelID, rel.From.FieldID, src, types.FieldPatch{RelationshipData: rel.Data()}, nil, true)
	return rel, nil
}

// DeleteRelationship removes a relationship and clears the source field's
// relationship_data.
func (d *Designer) DeleteRelationship(id string) error {
	return d.do(func() error { return d.deleteRelationship(id) })
}

func (d *Designer) deleteRelationship(id string) error {
	rel, ok := d.store.Relationship(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrRelationshipNotFound, id)
	}
	base, _, _ := d.store.Field(rel.From.ModelID, rel.From.FieldID)

	before := d.relIndex()
	if _, err := d.store.RemoveRelationship(id); err != nil {
		return err
	}
	updated, _, _ := d.store.Field(rel.From.ModelID, rel.From.FieldID)
	d.emit(event.NewFieldUpdated(d.projectID, event.FieldPayload{
		ModelID:       rel.From.ModelID,
		Field:         updated,
		Relationships: []string{rel.ID},
	}))
	d.diffRelationships(before, true)

	d.recordFieldEdit(rel.From.ModelID, rel.From.FieldID, base, types.FieldPatch{ClearRelationship: true}, nil, true)
	return nil
}

func (d *Designer) resolveRef(ref types.FieldRef) types.FieldRef {
	ref.ModelID = d.resolveID(ref.ModelID)
	if ref.FieldID != "" {
		ref.FieldID = d.resolveID(ref.FieldID)
	}
	return ref
}

// fieldByRef finds a field by id, falling back to its name, and fills in
// the missing half of the reference.
func (d *Designer) fieldByRef(ref types.FieldRef) (types.Field, error) {
	m, ok := d.store.Model(ref.ModelID)
	if !ok {
		return types.Field{}, fmt.Errorf("%w: %s", store.ErrModelNotFound, ref.ModelID)
	}
	if ref.FieldID != "" {
		if f, _ := m.FieldByID(ref.FieldID); f != nil {
			return *f, nil
		}
	}
	if i := m.FieldIndex(ref.FieldName); ref.FieldName != "" && i >= 0 {
		return m.Fields[i], nil
	}
	return types.Field{}, fmt.Errorf("%w: %s.%s", store.ErrFieldNotFound, m.Name, ref.FieldName)
}
