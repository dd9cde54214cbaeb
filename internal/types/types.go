// Package types provides the Go shapes of the designer's schema graph: the
// Models and Fields exchanged with the persistence backend, the field-embedded
// relationship pointer, and the materialised Relationship edges drawn on the
// canvas.
package types

import (
	"encoding/json"
	"fmt"
)

// Model is a user-defined database table in the designed schema.
type Model struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Order       int     `json:"order"`
	Fields      []Field `json:"fields"`
}

// FieldIndex returns the position of the named field in the model's stored
// field order, or -1.
func (m *Model) FieldIndex(name string) int {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// FieldByID returns the field with the given id and its index.
func (m *Model) FieldByID(id string) (*Field, int) {
	for i := range m.Fields {
		if m.Fields[i].ID == id {
			return &m.Fields[i], i
		}
	}
	return nil, -1
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	out := m
	if m.Fields != nil {
		out.Fields = make([]Field, len(m.Fields))
		for i, f := range m.Fields {
			out.Fields[i] = f.Clone()
		}
	}
	return out
}

// Field is a typed column within a Model.
type Field struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	FieldType        FieldType         `json:"field_type"`
	MaxLength        *int              `json:"max_length"`
	Null             bool              `json:"null"`
	Blank            bool              `json:"blank"`
	Unique           bool              `json:"unique"`
	DefaultValue     string            `json:"default_value"`
	HelpText         string            `json:"help_text"`
	Order            int               `json:"order"`
	RelationshipData *RelationshipData `json:"relationship_data,omitempty"`
}

// Clone returns a deep copy of the field.
func (f Field) Clone() Field {
	out := f
	if f.MaxLength != nil {
		v := *f.MaxLength
		out.MaxLength = &v
	}
	if f.RelationshipData != nil {
		rd := *f.RelationshipData
		out.RelationshipData = &rd
	}
	return out
}

// RelationshipData is a field's outbound reference as persisted by the
// backend. The target is addressed by model and field name.
type RelationshipData struct {
	RelationshipType RelationshipType `json:"relationshipType"`
	References       Reference        `json:"references"`
}

// Reference names a field of a model.
type Reference struct {
	Model string `json:"model"`
	Field string `json:"field"`
}

// RelationshipType is the cardinality tag of a relationship.
type RelationshipType string

const (
	OneToOne   RelationshipType = "1:1"
	OneToMany  RelationshipType = "1:M"
	ManyToMany RelationshipType = "M:M"
)

// Valid reports whether t is one of the supported cardinalities.
func (t RelationshipType) Valid() bool {
	switch t {
	case OneToOne, OneToMany, ManyToMany:
		return true
	default:
		return false
	}
}

// Label returns the human-readable cardinality name.
func (t RelationshipType) Label() string {
	switch t {
	case OneToOne:
		return "One-to-One"
	case OneToMany:
		return "One-to-Many"
	case ManyToMany:
		return "Many-to-Many"
	default:
		return string(t)
	}
}

// ── Canvas geometry ─────────────────────────────────────────────────────────

const (
	// SourceRelativeX is the right edge of a model card.
	SourceRelativeX = 256
	// TargetRelativeX is the left edge of a model card.
	TargetRelativeX = 0
	// FieldRowOffset is the y offset of the first field row.
	FieldRowOffset = 80
	// FieldRowHeight is the height of one field row.
	FieldRowHeight = 40
)

// RelativeY returns the endpoint y offset for the field at index.
func RelativeY(index int) float64 {
	return float64(FieldRowOffset + index*FieldRowHeight)
}

// Position is a model card's top-left corner in canvas coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point is an absolute canvas coordinate.
type Point = Position

// Add returns p translated by (dx, dy).
func (p Position) Add(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Sub returns p - q.
func (p Position) Sub(q Position) Position {
	return Position{X: p.X - q.X, Y: p.Y - q.Y}
}

// ── Relationships ───────────────────────────────────────────────────────────

// Endpoint is one side of a Relationship.
type Endpoint struct {
	ModelID    string    `json:"modelId"`
	FieldID    string    `json:"fieldId"`
	FieldName  string    `json:"fieldName"`
	FieldType  FieldType `json:"fieldType"`
	ModelName  string    `json:"modelName"`
	FieldIndex int       `json:"fieldIndex"`
	RelativeX  float64   `json:"relativeX"`
	RelativeY  float64   `json:"relativeY"`
}

// Relationship is a directed edge between a field of one model and a field
// of another, derived from the source field's RelationshipData.
type Relationship struct {
	ID   string           `json:"id"`
	From Endpoint         `json:"from"`
	To   Endpoint         `json:"to"`
	Type RelationshipType `json:"type"`
}

// RelationshipKey identifies a relationship by its ordered field pair.
type RelationshipKey struct {
	FromModelID   string
	FromFieldName string
	ToModelID     string
	ToFieldName   string
}

// Key returns the equality key of the relationship.
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{
		FromModelID:   r.From.ModelID,
		FromFieldName: r.From.FieldName,
		ToModelID:     r.To.ModelID,
		ToFieldName:   r.To.FieldName,
	}
}

// Touches reports whether either endpoint belongs to the model.
func (r Relationship) Touches(modelID string) bool {
	return r.From.ModelID == modelID || r.To.ModelID == modelID
}

// Data returns the RelationshipData the source field persists for r.
func (r Relationship) Data() *RelationshipData {
	return &RelationshipData{
		RelationshipType: r.Type,
		References: Reference{
			Model: r.To.ModelName,
			Field: r.To.FieldName,
		},
	}
}

// Label returns "Model.field → Model.field".
func (r Relationship) Label() string {
	return fmt.Sprintf("%s.%s → %s.%s", r.From.ModelName, r.From.FieldName, r.To.ModelName, r.To.FieldName)
}

// RelationshipID builds the stable identity of a relationship.
func RelationshipID(fromModelID, fromFieldID, toModelID, toFieldID string) string {
	return fromModelID + "-" + fromFieldID + "-" + toModelID + "-" + toFieldID
}

// SourceEndpoint builds the source side of a relationship for field index i
// of model m.
func SourceEndpoint(m *Model, i int) Endpoint {
	return endpoint(m, i, SourceRelativeX)
}

// TargetEndpoint builds the target side of a relationship for field index i
// of model m.
func TargetEndpoint(m *Model, i int) Endpoint {
	return endpoint(m, i, TargetRelativeX)
}

func endpoint(m *Model, i int, relX float64) Endpoint {
	f := m.Fields[i]
	return Endpoint{
		ModelID:    m.ID,
		FieldID:    f.ID,
		FieldName:  f.Name,
		FieldType:  f.FieldType,
		ModelName:  m.Name,
		FieldIndex: i,
		RelativeX:  relX,
		RelativeY:  RelativeY(i),
	}
}

// ── Selection ───────────────────────────────────────────────────────────────

// ItemKind is the kind of a selectable canvas object.
type ItemKind string

const (
	ItemModel        ItemKind = "model"
	ItemRelationship ItemKind = "relationship"
)

// Selection is the single selected canvas object.
type Selection struct {
	Kind ItemKind `json:"type"`
	ID   string   `json:"id"`
}

// FieldRef addresses a field on the canvas.
type FieldRef struct {
	ModelID   string `json:"model_id"`
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
}

// ── Inputs and patches ──────────────────────────────────────────────────────

// ModelInput is the body for creating a model.
type ModelInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// FieldInput is the body for creating a field.
type FieldInput struct {
	Name             string            `json:"name" validate:"required,max=255"`
	FieldType        FieldType         `json:"field_type" validate:"required"`
	MaxLength        *int              `json:"max_length" validate:"omitempty,gt=0"`
	Null             bool              `json:"null"`
	Blank            bool              `json:"blank"`
	Unique           bool              `json:"unique"`
	DefaultValue     string            `json:"default_value"`
	HelpText         string            `json:"help_text" validate:"max=255"`
	Order            int               `json:"order"`
	RelationshipData *RelationshipData `json:"relationship_data,omitempty"`
}

// Field returns the field described by the input, with the given id.
func (in FieldInput) Field(id string) Field {
	return Field{
		ID:               id,
		Name:             in.Name,
		FieldType:        in.FieldType,
		MaxLength:        in.MaxLength,
		Null:             in.Null,
		Blank:            in.Blank,
		Unique:           in.Unique,
		DefaultValue:     in.DefaultValue,
		HelpText:         in.HelpText,
		Order:            in.Order,
		RelationshipData: in.RelationshipData,
	}.Clone()
}

// ModelPatch is a partial model update. Nil fields are left unchanged.
type ModelPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Apply applies the patch to m.
func (p ModelPatch) Apply(m *Model) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
}

// Merge returns p overlaid with the non-nil fields of next.
func (p ModelPatch) Merge(next ModelPatch) ModelPatch {
	if next.Name != nil {
		p.Name = next.Name
	}
	if next.Description != nil {
		p.Description = next.Description
	}
	return p
}

// FieldPatch is a partial field update. Nil fields are left unchanged;
// ClearRelationship removes the field's relationship_data.
type FieldPatch struct {
	Name              *string           `json:"name,omitempty"`
	FieldType         *FieldType        `json:"field_type,omitempty"`
	MaxLength         *int              `json:"max_length,omitempty"`
	Null              *bool             `json:"null,omitempty"`
	Blank             *bool             `json:"blank,omitempty"`
	Unique            *bool             `json:"unique,omitempty"`
	DefaultValue      *string           `json:"default_value,omitempty"`
	HelpText          *string           `json:"help_text,omitempty"`
	Order             *int              `json:"order,omitempty"`
	RelationshipData  *RelationshipData `json:"relationship_data,omitempty"`
	ClearRelationship bool              `json:"-"`
}

// Apply applies the patch to f.
func (p FieldPatch) Apply(f *Field) {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.FieldType != nil {
		f.FieldType = *p.FieldType
	}
	if p.MaxLength != nil {
		v := *p.MaxLength
		f.MaxLength = &v
	}
	if p.Null != nil {
		f.Null = *p.Null
	}
	if p.Blank != nil {
		f.Blank = *p.Blank
	}
	if p.Unique != nil {
		f.Unique = *p.Unique
	}
	if p.DefaultValue != nil {
		f.DefaultValue = *p.DefaultValue
	}
	if p.HelpText != nil {
		f.HelpText = *p.HelpText
	}
	if p.Order != nil {
		f.Order = *p.Order
	}
	switch {
	case p.ClearRelationship:
		f.RelationshipData = nil
	case p.RelationshipData != nil:
		rd := *p.RelationshipData
		f.RelationshipData = &rd
	}
}

// Merge returns p overlaid with the set fields of next.
func (p FieldPatch) Merge(next FieldPatch) FieldPatch {
	if next.Name != nil {
		p.Name = next.Name
	}
	if next.FieldType != nil {
		p.FieldType = next.FieldType
	}
	if next.MaxLength != nil {
		p.MaxLength = next.MaxLength
	}
	if next.Null != nil {
		p.Null = next.Null
	}
	if next.Blank != nil {
		p.Blank = next.Blank
	}
	if next.Unique != nil {
		p.Unique = next.Unique
	}
	if next.DefaultValue != nil {
		p.DefaultValue = next.DefaultValue
	}
	if next.HelpText != nil {
		p.HelpText = next.HelpText
	}
	if next.Order != nil {
		p.Order = next.Order
	}
	switch {
	case next.ClearRelationship:
		p.ClearRelationship = true
		p.RelationshipData = nil
	case next.RelationshipData != nil:
		p.ClearRelationship = false
		p.RelationshipData = next.RelationshipData
	}
	return p
}

// MarshalJSON encodes the patch, emitting "relationship_data": null when the
// relationship is being cleared.
func (p FieldPatch) MarshalJSON() ([]byte, error) {
	type plain FieldPatch
	b, err := json.Marshal(plain(p))
	if err != nil || !p.ClearRelationship {
		return b, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	m["relationship_data"] = json.RawMessage("null")
	return json.Marshal(m)
}

// UnmarshalJSON decodes the patch; an explicit null relationship_data sets
// ClearRelationship.
func (p *FieldPatch) UnmarshalJSON(data []byte) error {
	type plain FieldPatch
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["relationship_data"]; ok && string(v) == "null" {
		out.ClearRelationship = true
	}
	*p = FieldPatch(out)
	return nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
