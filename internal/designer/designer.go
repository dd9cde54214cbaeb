// Package designer composes the schema graph engine for one open project:
// the entity store, the relationship reconciler, the canvas layout, the
// interaction state machine and the sync gateway.
//
// Every user intent is applied to local state first and then sent to the
// backend. Responses replace the optimistic version; failures roll the
// optimistic change back unless a newer local edit has superseded it.
// Canvas events describe every visible change in emission order.
package designer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/debounce"
	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/interaction"
	"github.com/matthewbaird/schemacanvas/internal/layout"
	"github.com/matthewbaird/schemacanvas/internal/layoutstore"
	"github.com/matthewbaird/schemacanvas/internal/reconcile"
	"github.com/matthewbaird/schemacanvas/internal/store"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

const tempPrefix = "tmp-"

func newTempID() string { return tempPrefix + uuid.NewString() }

// IsTemporary reports whether id is an optimistic id not yet confirmed by
// the backend.
func IsTemporary(id string) bool { return strings.HasPrefix(id, tempPrefix) }

// Runner executes a backend call.
type Runner func(task func())

// Async runs each task on its own goroutine.
func Async(task func()) { go task() }

// Inline runs each task on the caller's goroutine.
func Inline(task func()) { task() }

// Options configures a Designer. Gateway and ProjectID are required.
type Options struct {
	ProjectID      string
	Gateway        gateway.Gateway
	Layouts        layoutstore.Store
	Recorder       event.Recorder
	Logger         *zap.Logger
	DebounceWindow time.Duration
	Clock          debounce.Clock
	Runner         Runner
}

// ErrClosed is returned by every operation on a closed designer.
var ErrClosed = errors.New("designer closed")

// Designer is the engine behind one open canvas. It is safe for concurrent
// use; mutations are serialised.
type Designer struct {
	mu        sync.Mutex
	projectID string
	gw        gateway.Gateway
	layouts   layoutstore.Store
	rec       event.Recorder
	logger    *zap.Logger
	run       Runner

	store      *store.Store
	reconciler *reconcile.Reconciler
	layout     *layout.Manager
	machine    *interaction.Machine
	debouncer  *debounce.Debouncer
	unlisten   func()

	dropped    []*reconcile.ReferenceNotFoundError
	versions   map[string]uint64
	modelEdits map[string]*modelEdit
	fieldEdits map[string]*fieldEdit
	alias      map[string]string
	awaiting   map[string][]func(id string)
	orphans    map[string]bool
	outbox     []func()
	closed     bool
}

// New builds a Designer with an empty graph. Call Load to fetch the project.
func New(opts Options) (*Designer, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("designer: gateway is required")
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("designer: project id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = event.NewFanout()
	}
	run := opts.Runner
	if run == nil {
		run = Async
	}
	window := opts.DebounceWindow
	if window <= 0 {
		window = debounce.DefaultWindow
	}
	var dopts []debounce.Option
	if opts.Clock != nil {
		dopts = append(dopts, debounce.WithClock(opts.Clock))
	}

	d := &Designer{
		projectID:  opts.ProjectID,
		gw:         opts.Gateway,
		layouts:    opts.Layouts,
		rec:        rec,
		logger:     logger.Named("designer").With(zap.String("project", opts.ProjectID)),
		run:        run,
		store:      store.New(),
		reconciler: reconcile.New(logger),
		layout:     layout.New(),
		machine:    interaction.New(),
		debouncer:  debounce.New(window, dopts...),
		versions:   make(map[string]uint64),
		modelEdits: make(map[string]*modelEdit),
		fieldEdits: make(map[string]*fieldEdit),
		alias:      make(map[string]string),
		awaiting:   make(map[string][]func(string)),
		orphans:    make(map[string]bool),
	}
	d.unlisten = d.layout.Subscribe(func(id string, pos types.Position) {
		d.emit(event.NewPositionChanged(d.projectID, event.PositionPayload{ModelID: id, Position: pos}))
	})
	return d, nil
}

// ProjectID returns the project the designer edits.
func (d *Designer) ProjectID() string { return d.projectID }

// Load fetches the project's models, rebuilds the relationship graph and
// seeds positions. Saved positions from the layout store win over defaults;
// live positions win over both.
func (d *Designer) Load(ctx context.Context) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	models, err := d.gw.ListModels(ctx, d.projectID)
	if err != nil {
		return fmt.Errorf("load project %s: %w", d.projectID, err)
	}
	var saved map[string]types.Position
	if d.layouts != nil {
		saved, err = d.layouts.Load(ctx, d.projectID)
		if err != nil {
			d.logger.Warn("load saved layout", zap.Error(err))
			saved = nil
		}
	}
	res := d.reconciler.Reconcile(models)

	return d.do(func() error {
		d.store.Replace(models, res.Relationships)
		d.dropped = res.Dropped
		d.layout.Restore(saved)
		d.layout.Seed(d.store.ModelIDs())
		d.machine.Reset()
		d.emit(event.NewGraphLoaded(d.projectID, event.GraphLoadedPayload{
			Models:        len(models),
			Relationships: len(res.Relationships),
			Dropped:       len(res.Dropped),
		}))
		d.logger.Info("project loaded",
			zap.Int("models", len(models)),
			zap.Int("relationships", len(res.Relationships)),
			zap.Int("dropped", len(res.Dropped)))
		return nil
	})
}

// Close drops pending debounced edits without sending them and detaches the
// layout listener. Later operations fail with ErrClosed. Backend calls
// already in flight still complete, but their responses are not applied.
func (d *Designer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if n := d.debouncer.Close(); n > 0 {
		d.logger.Info("discarded pending edits", zap.Int("count", n))
	}
	d.unlisten()
}

// ── Snapshot ────────────────────────────────────────────────────────────────

// Line is a relationship as drawn: absolute endpoint coordinates.
type Line struct {
	RelationshipID string                 `json:"relationship_id"`
	Type           types.RelationshipType `json:"type"`
	Label          string                 `json:"label"`
	From           types.Point            `json:"from"`
	To             types.Point            `json:"to"`
}

// DroppedReference is a relationship_data pointer that could not be
// resolved at load time.
type DroppedReference struct {
	ModelID   string          `json:"model_id"`
	ModelName string          `json:"model_name"`
	FieldID   string          `json:"field_id"`
	FieldName string          `json:"field_name"`
	Reference types.Reference `json:"reference"`
	Reason    string          `json:"reason"`
}

// Snapshot is the full render state of a canvas.
type Snapshot struct {
	ProjectID     string                    `json:"project_id"`
	Models        []types.Model             `json:"models"`
	Relationships []types.Relationship      `json:"relationships"`
	Positions     map[string]types.Position `json:"positions"`
	Lines         []Line                    `json:"lines"`
	Zoom          float64                   `json:"zoom"`
	State         interaction.State         `json:"state"`
	Dropped       []DroppedReference        `json:"dropped,omitempty"`
	PendingEdits  int                       `json:"pending_edits"`
}

// Snapshot returns a copy of the current render state.
func (d *Designer) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.store.Snapshot()
	snap := Snapshot{
		ProjectID:     d.projectID,
		Models:        st.Models,
		Relationships: st.Relationships,
		Positions:     d.layout.Positions(),
		Lines:         []Line{},
		Zoom:          d.layout.Zoom(),
		State:         d.machine.State(),
		PendingEdits:  len(d.modelEdits) + len(d.fieldEdits),
	}
	for _, rel := range st.Relationships {
		from, to, ok := d.layout.Endpoints(rel)
		if !ok {
			continue
		}
		snap.Lines = append(snap.Lines, Line{
			RelationshipID: rel.ID,
			Type:           rel.Type,
			Label:          rel.Type.Label(),
			From:           from,
			To:             to,
		})
	}
	for _, e := range d.dropped {
		snap.Dropped = append(snap.Dropped, DroppedReference{
			ModelID:   e.ModelID,
			ModelName: e.ModelName,
			FieldID:   e.FieldID,
			FieldName: e.FieldName,
			Reference: e.Reference,
			Reason:    e.Reason,
		})
	}
	return snap
}

// Model returns a model by id.
func (d *Designer) Model(id string) (types.Model, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Model(d.resolveID(id))
}

// ResolveID returns the persisted id for a temporary one once it is known.
func (d *Designer) ResolveID(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveID(id)
}

// Models returns the current models in display order.
func (d *Designer) Models() []types.Model {
	return d.store.Models()
}

// Relationships returns the current relationship list.
func (d *Designer) Relationships() []types.Relationship {
	return d.store.Relationships()
}

// ── Plumbing ────────────────────────────────────────────────────────────────

// do runs fn under the designer lock, then hands queued backend calls to
// the runner once the lock is released. Once closed, fn is not run. This
// also stops debounce timers that fired during Close.
func (d *Designer) do(fn func() error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	err := fn()
	tasks := d.outbox
	d.outbox = nil
	d.mu.Unlock()

	for _, t := range tasks {
		d.run(t)
	}
	return err
}

// enqueue schedules task to run after the current locked section. Callers
// hold mu.
func (d *Designer) enqueue(task func()) {
	d.outbox = append(d.outbox, task)
}

func (d *Designer) emit(evt event.CanvasEvent) {
	d.rec.Record(context.Background(), evt)
}

// resolveID follows a temporary id to its persisted id once known.
func (d *Designer) resolveID(id string) string {
	for i := 0; i < 2; i++ {
		next, ok := d.alias[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

// whenPersisted calls fn with the persisted id of entity id: immediately
// when it is already persisted, otherwise once its create call returns.
// Callers hold mu.
func (d *Designer) whenPersisted(id string, fn func(persisted string)) {
	id = d.resolveID(id)
	if !IsTemporary(id) {
		fn(id)
		return
	}
	d.awaiting[id] = append(d.awaiting[id], fn)
}

// persisted records that temporary id tmp is now id and releases the work
// waiting on it. Callers hold mu.
func (d *Designer) persisted(tmp, id string) {
	d.alias[tmp] = id
	waiters := d.awaiting[tmp]
	delete(d.awaiting, tmp)
	for _, fn := range waiters {
		fn(id)
	}
}

// abandon drops the work waiting on a temporary id whose create failed.
// Callers hold mu.
func (d *Designer) abandon(tmp string) {
	delete(d.awaiting, tmp)
}

func modelKey(id string) string { return "model:" + id }
func fieldKey(id string) string { return "field:" + id }

// touch records a local edit of the entity behind key and returns the new
// version. Callers hold mu.
func (d *Designer) touch(key string) uint64 {
	d.versions[key]++
	return d.versions[key]
}

func (d *Designer) rekeyVersion(oldKey, newKey string) {
	if v, ok := d.versions[oldKey]; ok {
		d.versions[newKey] += v
		delete(d.versions, oldKey)
	}
}

// locateField finds the model currently holding field id.
func (d *Designer) locateField(modelID, fieldID string) (string, string, bool) {
	modelID, fieldID = d.resolveID(modelID), d.resolveID(fieldID)
	if _, _, ok := d.store.Field(modelID, fieldID); ok {
		return modelID, fieldID, true
	}
	return "", "", false
}

func relationshipIDs(rels []types.Relationship) []string {
	if len(rels) == 0 {
		return nil
	}
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = r.ID
	}
	return out
}
