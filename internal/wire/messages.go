// Package wire defines the WebSocket protocol between a canvas and its
// designer session.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Client message types.
const (
	TypeLoad               = "load"
	TypePing               = "ping"
	TypeAddModel           = "add_model"
	TypeRenameModel        = "rename_model"
	TypeUpdateModel        = "update_model"
	TypeDeleteModel        = "delete_model"
	TypeAddField           = "add_field"
	TypeUpdateField        = "update_field"
	TypeDeleteField        = "delete_field"
	TypeDeleteRelationship = "delete_relationship"
	TypeOpenPicker         = "open_picker"
	TypeClosePicker        = "close_picker"
	TypeChooseType         = "choose_type"
	TypeFieldClick         = "field_click"
	TypeCanvasClick        = "canvas_click"
	TypeSelectModel        = "select_model"
	TypeSelectRelationship = "select_relationship"
	TypeRequestDelete      = "request_delete"
	TypeConfirmDelete      = "confirm_delete"
	TypeCancelDelete       = "cancel_delete"
	TypeKey                = "key"
	TypePointerDown        = "pointer_down"
	TypePointerMove        = "pointer_move"
	TypePointerUp          = "pointer_up"
	TypeZoom               = "zoom"
)

// Server message types.
const (
	TypeSession   = "session"
	TypeSnapshot  = "snapshot"
	TypePosition  = "position"
	TypeState     = "state"
	TypeAck       = "ack"
	TypeError     = "error"
	TypeSyncError = "sync_error"
	TypePong      = "pong"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id"` // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// RenameModelData is the payload for "rename_model".
type RenameModelData struct {
	ModelID string `json:"model_id"`
	Name    string `json:"name"`
}

// UpdateModelData is the payload for "update_model".
type UpdateModelData struct {
	ModelID string           `json:"model_id"`
	Patch   types.ModelPatch `json:"patch"`
}

// AddFieldData is the payload for "add_field".
type AddFieldData struct {
	ModelID string           `json:"model_id"`
	Field   types.FieldInput `json:"field"`
}

// UpdateFieldData is the payload for "update_field". A patch carrying
// "relationship_data": null removes the field's relationship.
type UpdateFieldData struct {
	ModelID string           `json:"model_id"`
	FieldID string           `json:"field_id"`
	Patch   types.FieldPatch `json:"patch"`
}

// TargetData addresses one model, field or relationship.
type TargetData struct {
	ModelID        string `json:"model_id,omitempty"`
	FieldID        string `json:"field_id,omitempty"`
	RelationshipID string `json:"relationship_id,omitempty"`
}

// ChooseTypeData is the payload for "choose_type".
type ChooseTypeData struct {
	Type types.RelationshipType `json:"type"`
}

// KeyData is the payload for "key".
type KeyData struct {
	Key          string `json:"key"`
	InputFocused bool   `json:"input_focused"`
}

// PointerData is the payload for pointer messages, in canvas coordinates.
type PointerData struct {
	ModelID string  `json:"model_id,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// ZoomData is the payload for "zoom". Action is "in", "out" or "set".
type ZoomData struct {
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// SessionData carries session information.
type SessionData struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ZoomResult answers a "zoom" request.
type ZoomResult struct {
	Zoom float64 `json:"zoom"`
}
