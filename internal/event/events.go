package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Event types.
const (
	GraphLoaded         = "graph_loaded"
	ModelAdded          = "model_added"
	ModelUpdated        = "model_updated"
	ModelRemoved        = "model_removed"
	ModelRekeyed        = "model_rekeyed"
	FieldAdded          = "field_added"
	FieldUpdated        = "field_updated"
	FieldRemoved        = "field_removed"
	FieldRekeyed        = "field_rekeyed"
	RelationshipAdded   = "relationship_added"
	RelationshipRemoved = "relationship_removed"
	PositionChanged     = "position_changed"
	PositionCommitted   = "position_committed"
	ZoomChanged         = "zoom_changed"
	InteractionChanged  = "interaction_changed"
	SyncSucceeded       = "sync_succeeded"
	SyncFailed          = "sync_failed"
)

// Categories.
const (
	CategoryGraph       = "graph"
	CategoryLayout      = "layout"
	CategoryInteraction = "interaction"
	CategorySync        = "sync"
)

// EntityRef points at a canvas entity touched by an event.
type EntityRef struct {
	Kind string `json:"kind"` // "model", "field", "relationship"
	ID   string `json:"id"`
	Role string `json:"role"` // "subject", "context", "related"
}

// CanvasEvent carries the canonical shape of every canvas event.
type CanvasEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Affected   []EntityRef     `json:"affected,omitempty"`
	Summary    string          `json:"summary"`
	Category   string          `json:"category"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func newEvent(projectID, typ, category, summary string, refs []EntityRef, payload any) CanvasEvent {
	evt := CanvasEvent{
		ID:         newID(),
		EventType:  typ,
		ProjectID:  projectID,
		OccurredAt: time.Now().UTC(),
		Affected:   refs,
		Summary:    summary,
		Category:   category,
	}
	if payload != nil {
		evt.Payload = mustJSON(payload)
	}
	return evt
}

func modelRef(id, role string) EntityRef { return EntityRef{Kind: "model", ID: id, Role: role} }
func fieldRef(id, role string) EntityRef { return EntityRef{Kind: "field", ID: id, Role: role} }
func relRef(id, role string) EntityRef   { return EntityRef{Kind: "relationship", ID: id, Role: role} }

// ── Graph ───────────────────────────────────────────────────────────────────

// GraphLoadedPayload summarises a reconciliation pass.
type GraphLoadedPayload struct {
	Models        int `json:"models"`
	Relationships int `json:"relationships"`
	Dropped       int `json:"dropped"`
}

func NewGraphLoaded(projectID string, p GraphLoadedPayload) CanvasEvent {
	return newEvent(projectID, GraphLoaded, CategoryGraph,
		fmt.Sprintf("Loaded %d models and %d relationships", p.Models, p.Relationships), nil, p)
}

// ModelPayload carries a model and the relationships a change cascaded to.
type ModelPayload struct {
	Model         types.Model      `json:"model"`
	Relationships []string         `json:"relationships,omitempty"`
	Cascaded      []types.FieldRef `json:"cascaded,omitempty"`
}

func NewModelAdded(projectID string, p ModelPayload) CanvasEvent {
	return newEvent(projectID, ModelAdded, CategoryGraph,
		fmt.Sprintf("Model %s added", p.Model.Name),
		[]EntityRef{modelRef(p.Model.ID, "subject")}, p)
}

func NewModelUpdated(projectID string, p ModelPayload) CanvasEvent {
	return newEvent(projectID, ModelUpdated, CategoryGraph,
		fmt.Sprintf("Model %s updated", p.Model.Name),
		[]EntityRef{modelRef(p.Model.ID, "subject")}, p)
}

func NewModelRemoved(projectID string, p ModelPayload) CanvasEvent {
	refs := []EntityRef{modelRef(p.Model.ID, "subject")}
	for _, id := range p.Relationships {
		refs = append(refs, relRef(id, "related"))
	}
	return newEvent(projectID, ModelRemoved, CategoryGraph,
		fmt.Sprintf("Model %s removed", p.Model.Name), refs, p)
}

// RekeyPayload maps an optimistic id to the persisted one.
type RekeyPayload struct {
	ModelID string `json:"model_id,omitempty"`
	OldID   string `json:"old_id"`
	NewID   string `json:"new_id"`
}

func NewModelRekeyed(projectID string, p RekeyPayload) CanvasEvent {
	return newEvent(projectID, ModelRekeyed, CategoryGraph,
		fmt.Sprintf("Model %s persisted as %s", p.OldID, p.NewID),
		[]EntityRef{modelRef(p.NewID, "subject")}, p)
}

func NewFieldRekeyed(projectID string, p RekeyPayload) CanvasEvent {
	return newEvent(projectID, FieldRekeyed, CategoryGraph,
		fmt.Sprintf("Field %s persisted as %s", p.OldID, p.NewID),
		[]EntityRef{fieldRef(p.NewID, "subject"), modelRef(p.ModelID, "context")}, p)
}

// FieldPayload carries a field with its owning model.
type FieldPayload struct {
	ModelID       string           `json:"model_id"`
	Field         types.Field      `json:"field"`
	Relationships []string         `json:"relationships,omitempty"`
	Cascaded      []types.FieldRef `json:"cascaded,omitempty"`
}

func NewFieldAdded(projectID string, p FieldPayload) CanvasEvent {
	return newEvent(projectID, FieldAdded, CategoryGraph,
		fmt.Sprintf("Field %s added", p.Field.Name),
		[]EntityRef{fieldRef(p.Field.ID, "subject"), modelRef(p.ModelID, "context")}, p)
}

func NewFieldUpdated(projectID string, p FieldPayload) CanvasEvent {
	return newEvent(projectID, FieldUpdated, CategoryGraph,
		fmt.Sprintf("Field %s updated", p.Field.Name),
		[]EntityRef{fieldRef(p.Field.ID, "subject"), modelRef(p.ModelID, "context")}, p)
}

func NewFieldRemoved(projectID string, p FieldPayload) CanvasEvent {
	refs := []EntityRef{fieldRef(p.Field.ID, "subject"), modelRef(p.ModelID, "context")}
	for _, id := range p.Relationships {
		refs = append(refs, relRef(id, "related"))
	}
	return newEvent(projectID, FieldRemoved, CategoryGraph,
		fmt.Sprintf("Field %s removed", p.Field.Name), refs, p)
}

// RelationshipPayload carries one edge.
type RelationshipPayload struct {
	Relationship types.Relationship `json:"relationship"`
}

func NewRelationshipAdded(projectID string, rel types.Relationship) CanvasEvent {
	return newEvent(projectID, RelationshipAdded, CategoryGraph,
		fmt.Sprintf("Relationship %s (%s) added", rel.Label(), rel.Type),
		[]EntityRef{relRef(rel.ID, "subject"), modelRef(rel.From.ModelID, "context"), modelRef(rel.To.ModelID, "related")},
		RelationshipPayload{Relationship: rel})
}

func NewRelationshipRemoved(projectID string, rel types.Relationship) CanvasEvent {
	return newEvent(projectID, RelationshipRemoved, CategoryGraph,
		fmt.Sprintf("Relationship %s removed", rel.Label()),
		[]EntityRef{relRef(rel.ID, "subject"), modelRef(rel.From.ModelID, "context"), modelRef(rel.To.ModelID, "related")},
		RelationshipPayload{Relationship: rel})
}

// ── Layout ──────────────────────────────────────────────────────────────────

// PositionPayload carries a model's canvas position.
type PositionPayload struct {
	ModelID  string         `json:"model_id"`
	Position types.Position `json:"position"`
}

func NewPositionChanged(projectID string, p PositionPayload) CanvasEvent {
	return newEvent(projectID, PositionChanged, CategoryLayout, "Model moved",
		[]EntityRef{modelRef(p.ModelID, "subject")}, p)
}

// NewPositionCommitted marks the end of a drag; the position is final.
func NewPositionCommitted(projectID string, p PositionPayload) CanvasEvent {
	return newEvent(projectID, PositionCommitted, CategoryLayout, "Model placed",
		[]EntityRef{modelRef(p.ModelID, "subject")}, p)
}

// ZoomPayload carries the zoom factor.
type ZoomPayload struct {
	Zoom float64 `json:"zoom"`
}

func NewZoomChanged(projectID string, zoom float64) CanvasEvent {
	return newEvent(projectID, ZoomChanged, CategoryLayout,
		fmt.Sprintf("Zoom %.0f%%", zoom*100), nil, ZoomPayload{Zoom: zoom})
}

// ── Interaction ─────────────────────────────────────────────────────────────

// NewInteractionChanged carries the interaction state as payload.
func NewInteractionChanged(projectID, kind string, state any) CanvasEvent {
	return newEvent(projectID, InteractionChanged, CategoryInteraction,
		"Interaction "+kind, nil, state)
}

// ── Sync ────────────────────────────────────────────────────────────────────

// SyncPayload describes the outcome of a persistence call.
type SyncPayload struct {
	Op         string `json:"op"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message,omitempty"`
	Retryable  bool   `json:"retryable"`
	RolledBack bool   `json:"rolled_back"`
}

func NewSyncSucceeded(projectID string, p SyncPayload) CanvasEvent {
	return newEvent(projectID, SyncSucceeded, CategorySync,
		fmt.Sprintf("%s persisted", p.Op),
		[]EntityRef{{Kind: p.EntityKind, ID: p.EntityID, Role: "subject"}}, p)
}

func NewSyncFailed(projectID string, p SyncPayload) CanvasEvent {
	return newEvent(projectID, SyncFailed, CategorySync,
		fmt.Sprintf("%s failed: %s", p.Op, p.Message),
		[]EntityRef{{Kind: p.EntityKind, ID: p.EntityID, Role: "subject"}}, p)
}
