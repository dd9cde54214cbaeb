// Package layout owns model card positions on the canvas, the single
// in-flight drag gesture, the zoom factor, and the absolute coordinates of
// relationship line endpoints.
package layout

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Card geometry and default placement.
const (
	CardWidth    = 256
	HeaderHeight = 64

	OriginX  = 250
	OriginY  = 150
	SpacingX = 300
	StaggerY = 200
)

// Zoom bounds.
const (
	MinZoom     = 0.5
	MaxZoom     = 2.0
	ZoomStep    = 0.1
	DefaultZoom = 1.0
)

var (
	ErrDragInProgress = errors.New("a drag is already in progress")
	ErrNotDragging    = errors.New("no drag in progress")
	ErrUnknownModel   = errors.New("model has no position")
	ErrOutsideHeader  = errors.New("pointer is outside the model header")
)

// DefaultPosition is the seeded position for the model at index.
func DefaultPosition(index int) types.Position {
	y := float64(OriginY)
	if index%2 == 1 {
		y += StaggerY
	}
	return types.Position{X: float64(OriginX + SpacingX*index), Y: y}
}

// SeedPositions returns the position map for ids: an existing position is
// kept as is, a missing one gets the default for its index. Ids absent from
// the list are not carried over. existing is not modified.
func SeedPositions(existing map[string]types.Position, ids []string) map[string]types.Position {
	out := make(map[string]types.Position, len(ids))
	for i, id := range ids {
		if p, ok := existing[id]; ok {
			out[id] = p
			continue
		}
		out[id] = DefaultPosition(i)
	}
	return out
}

// Listener is notified whenever a model position changes.
type Listener func(modelID string, pos types.Position)

type drag struct {
	modelID string
	offset  types.Position
}

// Manager is safe for concurrent use. Listeners run synchronously on the
// goroutine that changed the position, after the manager's lock is released.
type Manager struct {
	mu        sync.Mutex
	positions map[string]types.Position
	drag      *drag
	zoom      float64
	listeners map[int]Listener
	nextID    int
}

// New creates an empty Manager at default zoom.
func New() *Manager {
	return &Manager{
		positions: make(map[string]types.Position),
		zoom:      DefaultZoom,
		listeners: make(map[int]Listener),
	}
}

// ── Positions ───────────────────────────────────────────────────────────────

// Seed replaces the live map with SeedPositions(live, ids).
func (m *Manager) Seed(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = SeedPositions(m.positions, ids)
	if m.drag != nil {
		if _, ok := m.positions[m.drag.modelID]; !ok {
			m.drag = nil
		}
	}
}

// Restore fills in persisted positions for ids that have no live position.
func (m *Manager) Restore(saved map[string]types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range saved {
		if _, ok := m.positions[id]; !ok {
			m.positions[id] = p
		}
	}
}

// Position returns the position of a model.
func (m *Manager) Position(id string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok
}

// Positions returns a copy of the live map.
func (m *Manager) Positions() map[string]types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.Position, len(m.positions))
	for id, p := range m.positions {
		out[id] = p
	}
	return out
}

// Set places a model and notifies listeners.
func (m *Manager) Set(id string, pos types.Position) {
	m.mu.Lock()
	m.positions[id] = pos
	ls := m.snapshotListeners()
	m.mu.Unlock()
	notify(ls, id, pos)
}

// Place gives a new model the default position for index unless it already
// has one, and returns its position.
func (m *Manager) Place(id string, index int) types.Position {
	m.mu.Lock()
	p, ok := m.positions[id]
	if ok {
		m.mu.Unlock()
		return p
	}
	p = DefaultPosition(index)
	m.positions[id] = p
	ls := m.snapshotListeners()
	m.mu.Unlock()
	notify(ls, id, p)
	return p
}

// Remove forgets a model's position.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	if m.drag != nil && m.drag.modelID == id {
		m.drag = nil
	}
}

// Rekey moves a position from a temporary id to the authoritative one.
func (m *Manager) Rekey(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[oldID]
	if !ok || oldID == newID {
		return
	}
	delete(m.positions, oldID)
	m.positions[newID] = p
	if m.drag != nil && m.drag.modelID == oldID {
		m.drag.modelID = newID
	}
}

// ── Drag ────────────────────────────────────────────────────────────────────

// BeginDrag starts a drag of the model if pointer lies within its header.
func (m *Manager) BeginDrag(id string, pointer types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drag != nil {
		return ErrDragInProgress
	}
	p, ok := m.positions[id]
	if !ok {
		return ErrUnknownModel
	}
	off := pointer.Sub(p)
	if off.X < 0 || off.X > CardWidth || off.Y < 0 || off.Y > HeaderHeight {
		return ErrOutsideHeader
	}
	m.drag = &drag{modelID: id, offset: off}
	return nil
}

// MoveDrag moves the dragged model to pointer minus the captured offset and
// notifies listeners immediately.
func (m *Manager) MoveDrag(pointer types.Point) (string, types.Position, error) {
	m.mu.Lock()
	if m.drag == nil {
		m.mu.Unlock()
		return "", types.Position{}, ErrNotDragging
	}
	id := m.drag.modelID
	p := pointer.Sub(m.drag.offset)
	m.positions[id] = p
	ls := m.snapshotListeners()
	m.mu.Unlock()

	notify(ls, id, p)
	return id, p, nil
}

// EndDrag finishes the gesture without changing any position.
func (m *Manager) EndDrag() (string, types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drag == nil {
		return "", types.Position{}, ErrNotDragging
	}
	id := m.drag.modelID
	m.drag = nil
	return id, m.positions[id], nil
}

// Dragging returns the id of the model being dragged.
func (m *Manager) Dragging() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drag == nil {
		return "", false
	}
	return m.drag.modelID, true
}

// ── Listeners ───────────────────────────────────────────────────────────────

// Subscribe registers fn and returns a function that removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) snapshotListeners() []Listener {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = m.listeners[id]
	}
	return out
}

func notify(ls []Listener, id string, p types.Position) {
	for _, fn := range ls {
		fn(id, p)
	}
}

// ── Endpoints ───────────────────────────────────────────────────────────────

// Endpoints returns the absolute canvas coordinates of both ends of rel. ok
// is false when either model has no position, and the line is not drawn.
func (m *Manager) Endpoints(rel types.Relationship) (from, to types.Point, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, fok := m.positions[rel.From.ModelID]
	tp, tok := m.positions[rel.To.ModelID]
	if !fok || !tok {
		return types.Point{}, types.Point{}, false
	}
	return fp.Add(rel.From.RelativeX, rel.From.RelativeY), tp.Add(rel.To.RelativeX, rel.To.RelativeY), true
}

// ── Zoom ────────────────────────────────────────────────────────────────────

// Zoom returns the current zoom factor.
func (m *Manager) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

// ZoomIn increases zoom by one step.
func (m *Manager) ZoomIn() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zoom = ClampZoom(m.zoom + ZoomStep)
	return m.zoom
}

// ZoomOut decreases zoom by one step.
func (m *Manager) ZoomOut() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zoom = ClampZoom(m.zoom - ZoomStep)
	return m.zoom
}

// SetZoom sets zoom, clamped and snapped to a step.
func (m *Manager) SetZoom(z float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zoom = ClampZoom(z)
	return m.zoom
}

// ClampZoom snaps z to one decimal and bounds it to [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return DefaultZoom
	}
	z = math.Round(z*10) / 10
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}
