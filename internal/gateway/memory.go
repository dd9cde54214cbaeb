package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Call records one request made to a Memory gateway.
type Call struct {
	Op        string
	ProjectID string
	ModelID   string
	FieldID   string
	Body      any
}

// Memory is an in-process Gateway with backend-like uniqueness rules,
// sequential ids, a call log and failure injection.
type Memory struct {
	mu       sync.Mutex
	projects map[string][]types.Model
	nextID   int
	calls    []Call
	failures map[string][]error
}

// NewMemory creates an empty Memory gateway.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string][]types.Model),
		failures: make(map[string][]error),
	}
}

var _ Gateway = (*Memory)(nil)

// Seed replaces a project's models. Ids in the input are kept.
func (g *Memory) Seed(projectID string, models []types.Model) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Model, len(models))
	for i, m := range models {
		out[i] = m.Clone()
		if n, err := strconv.Atoi(m.ID); err == nil && n > g.nextID {
			g.nextID = n
		}
		for _, f := range m.Fields {
			if n, err := strconv.Atoi(f.ID); err == nil && n > g.nextID {
				g.nextID = n
			}
		}
	}
	g.projects[projectID] = out
}

// FailNext makes the next call of op fail with err. A nil err fails with a
// 503 SyncError. Failures queue up per op.
func (g *Memory) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		err = &SyncError{Op: op, StatusCode: http.StatusServiceUnavailable, Message: "injected failure"}
	}
	g.failures[op] = append(g.failures[op], err)
}

// Calls returns the requests made so far.
func (g *Memory) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsFor returns the requests made for op.
func (g *Memory) CallsFor(op string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Models returns the persisted models of a project.
func (g *Memory) Models(projectID string) []types.Model {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Model, len(g.projects[projectID]))
	for i, m := range g.projects[projectID] {
		out[i] = m.Clone()
	}
	return out
}

// begin records the call and pops an injected failure. Callers hold mu.
func (g *Memory) begin(c Call) error {
	g.calls = append(g.calls, c)
	if q := g.failures[c.Op]; len(q) > 0 {
		g.failures[c.Op] = q[1:]
		return q[0]
	}
	return nil
}

func (g *Memory) id() string {
	g.nextID++
	return strconv.Itoa(g.nextID)
}

func notFound(op, what, id string) error {
	return &SyncError{Op: op, StatusCode: http.StatusNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func badRequest(op, msg string) error {
	return &SyncError{Op: op, StatusCode: http.StatusBadRequest, Message: msg}
}

func (g *Memory) model(projectID, modelID string) (*types.Model, int) {
	ms := g.projects[projectID]
	for i := range ms {
		if ms[i].ID == modelID {
			return &ms[i], i
		}
	}
	return nil, -1
}

func (g *Memory) nameTaken(projectID, name, exceptID string) bool {
	for _, m := range g.projects[projectID] {
		if m.Name == name && m.ID != exceptID {
			return true
		}
	}
	return false
}

// ── Gateway ─────────────────────────────────────────────────────────────────

func (g *Memory) ListModels(ctx context.Context, projectID string) ([]types.Model, error) {
	g.mu.Lock()
	if err := g.begin(Call{Op: OpListModels, ProjectID: projectID}); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.mu.Unlock()
	return g.Models(projectID), nil
}

func (g *Memory) CreateModel(ctx context.Context, projectID string, in types.ModelInput) (types.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(Call{Op: OpCreateModel, ProjectID: projectID, Body: in}); err != nil {
		return types.Model{}, err
	}
	if in.Name == "" {
		return types.Model{}, badRequest(OpCreateModel, "name: This field may not be blank.")
	}
	if g.nameTaken(projectID, in.Name, "") {
		return types.Model{}, badRequest(OpCreateModel, "model with this name already exists")
	}
	m := types.Model{
		ID:          g.id(),
		Name:        in.Name,
		Description: in.Description,
		Order:       in.Order,
		Fields:      []types.Field{},
	}
	g.projects[projectID] = append(g.projects[projectID], m)
	return m.Clone(), nil
}

func (g *Memory) UpdateModel(ctx context.Context, projectID, modelID string, patch types.ModelPatch) (types.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(Call{Op: OpUpdateModel, ProjectID: projectID, ModelID: modelID, Body: patch}); err != nil {
		return types.Model{}, err
	}
	m, _ := g.model(projectID, modelID)
	if m == nil {
		return types.Model{}, notFound(OpUpdateModel, "model", modelID)
	}
	if patch.Name != nil && g.nameTaken(projectID, *patch.Name, modelID) {
		return types.Model{}, badRequest(OpUpdateModel, "model with this name already exists")
	}
	patch.Apply(m)
	return m.Clone(), nil
}

func (g *Memory) DeleteModel(ctx context.Context, projectID, modelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(Call{Op: OpDeleteModel, ProjectID: projectID, ModelID: modelID}); err != nil {
		return err
	}
	_, i := g.model(projectID, modelID)
	if i < 0 {
		return notFound(OpDeleteModel, "model", modelID)
	}
	ms := g.projects[projectID]
	g.projects[projectID] = append(ms[:i], ms[i+1:]...)
	return nil
}

func (g *Memory) CreateField(ctx context.Context, projectID, modelID string, in types.FieldInput) (types.Field, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(Call{Op: OpCreateField, ProjectID: projectID, ModelID: modelID, Body: in}); err != nil {
		return types.Field{}, err
	}
	m, _ := g.model(projectID, modelID)
	if m == nil {
		return types.Field{}, notFound(OpCreateField, "model", modelID)
	}
	if m.FieldIndex(in.Name) >= 0 {
		return types.Field{}, badRequest(OpCreateField, "field with this name already exists")
	}
	f := in.Field(g.id())
	m.Fields = append(m.Fields, f)
	return f.Clone(), nil
}

func (g *Memory) UpdateField(ctx context.Context, projectID, modelID, fieldID string, patch types.FieldPatch) (types.Field, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(Call{Op: OpUpdateField, ProjectID: projectID, ModelID: modelID, FieldID: fieldID, Body: patch}); err != nil {
		return types.Field{}, err
	}
	m, _ := g.model(projectID, modelID)
	if m == nil {
		return types.Field{}, notFound(OpUpdateField, "model", modelID)
	}
	f, fi := m.FieldByID(fieldID)
	if f == nil {
		return types.Field{}, notFound(OpUpdateField, "field", fieldID)
	}
	if patch.Name != nil {
		if j := m.FieldIndex(*patch.Name); j >= 0 && j != fi {
			return types.Field{}, badRequest(OpUpdateField, "field with this name already exists")
		}
	}
	patch.Apply(f)
	return f.Clone(), nil
}

func (g *Memory) DeleteField(ctx context.Context, projectID, modelID, fieldID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(Call{Op: OpDeleteField, ProjectID: projectID, ModelID: modelID, FieldID: fieldID}); err != nil {
		return err
	}
	m, _ := g.model(projectID, modelID)
	if m == nil {
		return notFound(OpDeleteField, "model", modelID)
	}
	_, fi := m.FieldByID(fieldID)
	if fi < 0 {
		return notFound(OpDeleteField, "field", fieldID)
	}
	m.Fields = append(m.Fields[:fi], m.Fields[fi+1:]...)
	return nil
}
