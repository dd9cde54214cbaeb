// Package interaction is the canvas interaction state machine: selection,
// relationship-creation mode, and delete confirmation are one tagged state
// rather than independent flags.
package interaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Kind tags the machine state.
type Kind string

const (
	Idle                  Kind = "idle"
	RelationshipPending   Kind = "relationship_pending"
	RelationshipSelecting Kind = "relationship_selecting"
	ItemSelected          Kind = "item_selected"
	DeleteConfirm         Kind = "delete_confirm"
)

// Keys the machine reacts to.
const (
	KeyEscape    = "Escape"
	KeyDelete    = "Delete"
	KeyBackspace = "Backspace"
)

var (
	ErrInvalidTransition = errors.New("invalid interaction transition")
	ErrInvalidType       = errors.New("invalid relationship type")
)

// transitions lists the states reachable from each state.
var transitions = map[Kind][]Kind{
	Idle:                  {Idle, RelationshipPending, ItemSelected},
	RelationshipPending:   {Idle, RelationshipSelecting},
	RelationshipSelecting: {Idle, RelationshipSelecting},
	ItemSelected:          {Idle, ItemSelected, RelationshipPending, DeleteConfirm},
	DeleteConfirm:         {Idle, ItemSelected},
}

func validateTransition(current, target Kind) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, current)
	}
	for _, k := range allowed {
		if k == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

// State is the current interaction state. RelationshipType is set in the
// relationship states, Selected only in RelationshipSelecting, Item in
// ItemSelected and DeleteConfirm.
type State struct {
	Kind             Kind                   `json:"kind"`
	RelationshipType types.RelationshipType `json:"relationship_type,omitempty"`
	Selected         []types.FieldRef       `json:"selected_fields"`
	Item             *types.Selection       `json:"item,omitempty"`
}

// InRelationshipMode reports whether field clicks select relationship
// endpoints.
func (s State) InRelationshipMode() bool {
	return s.Kind == RelationshipPending || s.Kind == RelationshipSelecting
}

func (s State) clone() State {
	out := s
	out.Selected = append([]types.FieldRef{}, s.Selected...)
	if s.Item != nil {
		it := *s.Item
		out.Item = &it
	}
	return out
}

// Effect is an action the caller must carry out after a transition. A nil
// Effect means nothing to do.
type Effect interface {
	effect()
}

// CreateRelationship asks for a new relationship between two fields.
type CreateRelationship struct {
	From types.FieldRef
	To   types.FieldRef
	Type types.RelationshipType
}

// Delete asks for the confirmed item to be removed.
type Delete struct {
	Item types.Selection
}

func (CreateRelationship) effect() {}
func (Delete) effect()             {}

// Machine is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a machine in Idle.
func New() *Machine {
	return &Machine{state: State{Kind: Idle, Selected: []types.FieldRef{}}}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *Machine) set(next State) error {
	if err := validateTransition(m.state.Kind, next.Kind); err != nil {
		return err
	}
	if next.Selected == nil {
		next.Selected = []types.FieldRef{}
	}
	m.state = next
	return nil
}

func (m *Machine) idle() {
	m.state = State{Kind: Idle, Selected: []types.FieldRef{}}
}

// Reset returns to Idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle()
}

// ── Relationship mode ───────────────────────────────────────────────────────

// OpenPicker enters RelationshipPending. While already in relationship mode
// it toggles the mode off.
func (m *Machine) OpenPicker() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.InRelationshipMode() {
		m.idle()
		return nil
	}
	return m.set(State{Kind: RelationshipPending})
}

// ClosePicker dismisses the type picker without choosing.
func (m *Machine) ClosePicker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind == RelationshipPending {
		m.idle()
	}
}

// ChooseType confirms the cardinality and starts field selection.
func (m *Machine) ChooseType(t types.RelationshipType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	if m.state.Kind != RelationshipPending {
		return fmt.Errorf("%w: choose type in %s", ErrInvalidTransition, m.state.Kind)
	}
	return m.set(State{Kind: RelationshipSelecting, RelationshipType: t})
}

// ClickField selects a relationship endpoint. The second distinct field
// emits CreateRelationship and returns to Idle; clicking the selected field
// again changes nothing. Outside RelationshipSelecting it is ignored.
func (m *Machine) ClickField(ref types.FieldRef) Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != RelationshipSelecting {
		return nil
	}
	for _, sel := range m.state.Selected {
		if sameField(sel, ref) {
			return nil
		}
	}
	if len(m.state.Selected) == 0 {
		m.state.Selected = append(m.state.Selected, ref)
		return nil
	}
	eff := CreateRelationship{From: m.state.Selected[0], To: ref, Type: m.state.RelationshipType}
	m.idle()
	return eff
}

func sameField(a, b types.FieldRef) bool {
	if a.ModelID != b.ModelID {
		return false
	}
	if a.FieldID != "" && b.FieldID != "" {
		return a.FieldID == b.FieldID
	}
	return a.FieldName == b.FieldName
}

// ── Selection ───────────────────────────────────────────────────────────────

// ClickCanvas handles a click on empty background: it cancels relationship
// mode and clears a selection.
func (m *Machine) ClickCanvas() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Kind {
	case RelationshipPending, RelationshipSelecting, ItemSelected:
		m.idle()
	}
}

// SelectModel selects a model card. Suppressed in relationship mode.
func (m *Machine) SelectModel(id string) error {
	return m.selectItem(types.Selection{Kind: types.ItemModel, ID: id})
}

// SelectRelationship selects a relationship line. Suppressed in
// relationship mode.
func (m *Machine) SelectRelationship(id string) error {
	return m.selectItem(types.Selection{Kind: types.ItemRelationship, ID: id})
}

func (m *Machine) selectItem(sel types.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Kind {
	case RelationshipPending, RelationshipSelecting:
		return nil
	case DeleteConfirm:
		return fmt.Errorf("%w: select while confirming delete", ErrInvalidTransition)
	}
	return m.set(State{Kind: ItemSelected, Item: &sel})
}

// Forget drops the selection if it refers to an item that no longer exists.
func (m *Machine) Forget(sel types.Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Item != nil && *m.state.Item == sel {
		m.idle()
	}
}

// Rekey follows a selected item to its authoritative id.
func (m *Machine) Rekey(kind types.ItemKind, oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Item != nil && m.state.Item.Kind == kind && m.state.Item.ID == oldID {
		m.state.Item.ID = newID
	}
	for i := range m.state.Selected {
		if kind == types.ItemModel && m.state.Selected[i].ModelID == oldID {
			m.state.Selected[i].ModelID = newID
		}
	}
}

// ── Deletion ────────────────────────────────────────────────────────────────

// RequestDelete asks to delete the selected item.
func (m *Machine) RequestDelete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestDelete()
}

func (m *Machine) requestDelete() error {
	if m.state.Kind != ItemSelected {
		return fmt.Errorf("%w: delete with nothing selected", ErrInvalidTransition)
	}
	return m.set(State{Kind: DeleteConfirm, Item: m.state.Item})
}

// ConfirmDelete emits Delete for the item and returns to Idle.
func (m *Machine) ConfirmDelete() (Effect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != DeleteConfirm {
		return nil, fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, m.state.Kind)
	}
	eff := Delete{Item: *m.state.Item}
	m.idle()
	return eff, nil
}

// CancelDelete returns to ItemSelected.
func (m *Machine) CancelDelete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != DeleteConfirm {
		return fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, m.state.Kind)
	}
	return m.set(State{Kind: ItemSelected, Item: m.state.Item})
}

// ── Keyboard ────────────────────────────────────────────────────────────────

// PressKey handles a keyboard shortcut. Every key is ignored while a text
// input has focus. Escape returns to Idle from any state; Delete and
// Backspace request deletion of the selected item.
func (m *Machine) PressKey(key string, inputFocused bool) error {
	if inputFocused {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch key {
	case KeyEscape:
		m.idle()
	case KeyDelete, KeyBackspace:
		if m.state.Kind == ItemSelected {
			return m.requestDelete()
		}
	}
	return nil
}
