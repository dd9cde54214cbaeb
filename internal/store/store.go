// Package store holds the authoritative in-memory schema graph for one
// project: the Models (each carrying its Fields) in stored order and the
// materialised Relationship edge list with a per-model adjacency index.
package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Cascade reports the side effects of a mutation on other entities.
type Cascade struct {
	// Relationships removed because an endpoint disappeared or was replaced.
	Relationships []types.Relationship
	// Cleared lists fields whose relationship_data was removed.
	Cleared []types.FieldRef
	// Retargeted lists fields whose relationship_data references were
	// rewritten after a rename.
	Retargeted []types.FieldRef
}

// Empty reports whether the cascade touched nothing.
func (c Cascade) Empty() bool {
	return len(c.Relationships) == 0 && len(c.Cleared) == 0 && len(c.Retargeted) == 0
}

// State is a deep copy of the store contents.
type State struct {
	Models        []types.Model        `json:"models"`
	Relationships []types.Relationship `json:"relationships"`
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	models  []types.Model
	rels    []types.Relationship
	byModel map[string][]int // model id -> indexes into rels
	byID    map[string]int   // relationship id -> index into rels
}

// New creates an empty Store.
func New() *Store {
	s := &Store{}
	s.reindex()
	return s
}

// ── Reads ───────────────────────────────────────────────────────────────────

// Models returns copies of all models in stored order.
func (s *Store) Models() []types.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Model, len(s.models))
	for i, m := range s.models {
		out[i] = m.Clone()
	}
	return out
}

// ModelIDs returns the model ids in stored order.
func (s *Store) ModelIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.models))
	for i, m := range s.models {
		ids[i] = m.ID
	}
	return ids
}

// Model returns a copy of the model with the given id.
func (s *Store) Model(id string) (types.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.modelIndex(id)
	if i < 0 {
		return types.Model{}, false
	}
	return s.models[i].Clone(), true
}

// Field returns a copy of a field and its index within the model.
func (s *Store) Field(modelID, fieldID string) (types.Field, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mi := s.modelIndex(modelID)
	if mi < 0 {
		return types.Field{}, -1, false
	}
	f, fi := s.models[mi].FieldByID(fieldID)
	if f == nil {
		return types.Field{}, -1, false
	}
	return f.Clone(), fi, true
}

// Relationships returns all relationships in order.
func (s *Store) Relationships() []types.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Relationship(nil), s.rels...)
}

// Relationship returns the relationship with the given id.
func (s *Store) Relationship(id string) (types.Relationship, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return types.Relationship{}, false
	}
	return s.rels[i], true
}

// RelationshipsForModel returns the relationships touching the model.
func (s *Store) RelationshipsForModel(id string) []types.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byModel[id]
	out := make([]types.Relationship, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.rels[i])
	}
	return out
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() State {
	return State{Models: s.Models(), Relationships: s.Relationships()}
}

// ── Bulk ────────────────────────────────────────────────────────────────────

// Replace swaps the entire graph, typically with reconciled backend data.
func (s *Store) Replace(models []types.Model, rels []types.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make([]types.Model, len(models))
	for i, m := range models {
		s.models[i] = m.Clone()
	}
	s.rels = append([]types.Relationship(nil), rels...)
	s.reindex()
}

// Restore replaces the graph with a previously taken snapshot.
func (s *Store) Restore(st State) {
	s.Replace(st.Models, st.Relationships)
}

// ── Models ──────────────────────────────────────────────────────────────────

// AddModel appends a model. Its fields must have distinct names.
func (s *Store) AddModel(m types.Model) error {
	return s.InsertModel(-1, m)
}

// InsertModel places a model at index (or appends when index is out of
// range) and derives relationships from its fields' relationship_data.
func (s *Store) InsertModel(index int, m types.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(m.Name) == "" {
		return EmptyModelName(m.ID)
	}
	if s.modelIndex(m.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
	}
	if err := checkFieldNames(m); err != nil {
		return err
	}

	m = m.Clone()
	if index < 0 || index >= len(s.models) {
		s.models = append(s.models, m)
	} else {
		s.models = append(s.models[:index+1], s.models[index:]...)
		s.models[index] = m
	}
	for fi := range m.Fields {
		s.rederiveOutbound(m.ID, m.Fields[fi].ID)
	}
	s.rederiveInbound(m.Name)
	s.refreshEndpoints()
	return nil
}

// UpdateModel applies a partial patch. Renames cascade to relationship
// endpoints and to fields referencing the model by name.
func (s *Store) UpdateModel(id string, patch types.ModelPatch) (types.Model, Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.modelIndex(id)
	if i < 0 {
		return types.Model{}, Cascade{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return types.Model{}, Cascade{}, EmptyModelName(s.models[i].Name)
	}

	var c Cascade
	oldName := s.models[i].Name
	patch.Apply(&s.models[i])
	if newName := s.models[i].Name; newName != oldName {
		c.Retargeted = s.retarget(func(ref *types.Reference) bool {
			if ref.Model != oldName {
				return false
			}
			ref.Model = newName
			return true
		})
		s.rederiveInbound(newName)
	}
	c.Relationships = s.refreshEndpoints()
	return s.models[i].Clone(), c, nil
}

// ReplaceModel swaps a model for its authoritative version, which may carry
// a different id. Relationships are rekeyed onto the new ids.
func (s *Store) ReplaceModel(oldID string, m types.Model) (Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.modelIndex(oldID)
	if i < 0 {
		return Cascade{}, fmt.Errorf("%w: %s", ErrModelNotFound, oldID)
	}
	if m.ID != oldID && s.modelIndex(m.ID) >= 0 {
		return Cascade{}, fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
	}
	if err := checkFieldNames(m); err != nil {
		return Cascade{}, err
	}

	old := s.models[i]
	s.models[i] = m.Clone()
	for r := range s.rels {
		for _, ep := range []*types.Endpoint{&s.rels[r].From, &s.rels[r].To} {
			if ep.ModelID == oldID {
				ep.ModelID = m.ID
				if f, _ := old.FieldByID(ep.FieldID); f != nil {
					ep.FieldName = f.Name
				}
				ep.FieldID = ""
			}
		}
	}
	for fi := range s.models[i].Fields {
		s.rederiveOutbound(m.ID, s.models[i].Fields[fi].ID)
	}
	var c Cascade
	c.Relationships = s.refreshEndpoints()
	return c, nil
}

// RemoveModel deletes a model, every relationship touching it, and the
// relationship_data of fields that referenced it.
func (s *Store) RemoveModel(id string) (types.Model, Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.modelIndex(id)
	if i < 0 {
		return types.Model{}, Cascade{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	removed := s.models[i].Clone()

	var c Cascade
	for _, ri := range s.byModel[id] {
		c.Relationships = append(c.Relationships, s.rels[ri])
	}
	s.models = append(s.models[:i], s.models[i+1:]...)
	c.Cleared = s.clearReferences(func(ref types.Reference) bool {
		return ref.Model == removed.Name
	})

	kept := s.rels[:0]
	for _, r := range s.rels {
		if !r.Touches(id) {
			kept = append(kept, r)
		}
	}
	s.rels = kept
	s.refreshEndpoints()
	return removed, c, nil
}

// ── Fields ──────────────────────────────────────────────────────────────────

// AddField appends a field to a model.
func (s *Store) AddField(modelID string, f types.Field) error {
	return s.InsertField(modelID, -1, f)
}

// InsertField places a field at index within the model (or appends).
func (s *Store) InsertField(modelID string, index int, f types.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mi := s.modelIndex(modelID)
	if mi < 0 {
		return fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	m := &s.models[mi]
	if m.FieldIndex(f.Name) >= 0 {
		return DuplicateFieldName(m.Name, f.Name)
	}

	f = f.Clone()
	if index < 0 || index >= len(m.Fields) {
		m.Fields = append(m.Fields, f)
	} else {
		m.Fields = append(m.Fields[:index+1], m.Fields[index:]...)
		m.Fields[index] = f
	}
	s.rederiveOutbound(modelID, f.ID)
	s.rederiveInbound(m.Name)
	s.refreshEndpoints()
	return nil
}

// UpdateField applies a partial patch to a field. A rename cascades to
// endpoints and referencing fields; a relationship_data change re-derives
// the field's outbound relationship.
func (s *Store) UpdateField(modelID, fieldID string, patch types.FieldPatch) (types.Field, Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mi := s.modelIndex(modelID)
	if mi < 0 {
		return types.Field{}, Cascade{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	m := &s.models[mi]
	f, _ := m.FieldByID(fieldID)
	if f == nil {
		return types.Field{}, Cascade{}, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}
	if patch.Name != nil && *patch.Name != f.Name {
		if strings.TrimSpace(*patch.Name) == "" {
			return types.Field{}, Cascade{}, InvalidInput(fmt.Errorf("field name must not be empty"))
		}
		if m.FieldIndex(*patch.Name) >= 0 {
			return types.Field{}, Cascade{}, DuplicateFieldName(m.Name, *patch.Name)
		}
	}

	var c Cascade
	oldName := f.Name
	patch.Apply(f)
	updated := f.Clone()

	if updated.Name != oldName {
		modelName := m.Name
		c.Retargeted = s.retarget(func(ref *types.Reference) bool {
			if ref.Model != modelName || ref.Field != oldName {
				return false
			}
			ref.Field = updated.Name
			return true
		})
		s.rederiveInbound(modelName)
	}
	if patch.RelationshipData != nil || patch.ClearRelationship {
		c.Relationships = append(c.Relationships, s.rederiveOutbound(modelID, fieldID)...)
	}
	c.Relationships = append(c.Relationships, s.refreshEndpoints()...)
	return updated, c, nil
}

// ReplaceField swaps a field for its authoritative version.
func (s *Store) ReplaceField(modelID, oldID string, f types.Field) (Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mi := s.modelIndex(modelID)
	if mi < 0 {
		return Cascade{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	m := &s.models[mi]
	cur, fi := m.FieldByID(oldID)
	if cur == nil {
		return Cascade{}, fmt.Errorf("%w: %s", ErrFieldNotFound, oldID)
	}
	if j := m.FieldIndex(f.Name); j >= 0 && j != fi {
		return Cascade{}, DuplicateFieldName(m.Name, f.Name)
	}

	oldName := cur.Name
	for r := range s.rels {
		for _, ep := range []*types.Endpoint{&s.rels[r].From, &s.rels[r].To} {
			if ep.ModelID == modelID && ep.FieldID == oldID {
				ep.FieldID = f.ID
				ep.FieldName = f.Name
			}
		}
	}
	m.Fields[fi] = f.Clone()

	var c Cascade
	if f.Name != oldName {
		modelName := m.Name
		c.Retargeted = s.retarget(func(ref *types.Reference) bool {
			if ref.Model != modelName || ref.Field != oldName {
				return false
			}
			ref.Field = f.Name
			return true
		})
	}
	c.Relationships = append(c.Relationships, s.rederiveOutbound(modelID, f.ID)...)
	s.rederiveInbound(m.Name)
	c.Relationships = append(c.Relationships, s.refreshEndpoints()...)
	return c, nil
}

// RemoveField deletes a field, the relationships touching it, and the
// relationship_data of fields that referenced it.
func (s *Store) RemoveField(modelID, fieldID string) (types.Field, int, Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mi := s.modelIndex(modelID)
	if mi < 0 {
		return types.Field{}, -1, Cascade{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	m := &s.models[mi]
	f, fi := m.FieldByID(fieldID)
	if f == nil {
		return types.Field{}, -1, Cascade{}, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}
	removed := f.Clone()
	modelName := m.Name

	m.Fields = append(m.Fields[:fi], m.Fields[fi+1:]...)

	var c Cascade
	c.Cleared = s.clearReferences(func(ref types.Reference) bool {
		return ref.Model == modelName && ref.Field == removed.Name
	})
	kept := s.rels[:0]
	for _, r := range s.rels {
		if (r.From.ModelID == modelID && r.From.FieldID == fieldID) ||
			(r.To.ModelID == modelID && r.To.FieldID == fieldID) {
			c.Relationships = append(c.Relationships, r)
			continue
		}
		kept = append(kept, r)
	}
	s.rels = kept
	s.refreshEndpoints()
	return removed, fi, c, nil
}

// ── Relationships ───────────────────────────────────────────────────────────

// AddRelationship connects two fields. The source field's relationship_data
// is set from the new edge; an outbound relationship it already carried is
// replaced and returned.
func (s *Store) AddRelationship(from, to types.FieldRef, typ types.RelationshipType) (types.Relationship, *types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !typ.Valid() {
		return types.Relationship{}, nil, InvalidInput(fmt.Errorf("unknown relationship type %q", typ))
	}
	fm, ffi, err := s.resolve(from)
	if err != nil {
		return types.Relationship{}, nil, err
	}
	tm, tfi, err := s.resolve(to)
	if err != nil {
		return types.Relationship{}, nil, err
	}
	if fm.ID == tm.ID && ffi == tfi {
		return types.Relationship{}, nil, InvalidInput(fmt.Errorf("a field cannot reference itself"))
	}

	rel := buildRelationship(fm, ffi, tm, tfi, typ)
	for _, r := range s.rels {
		if r.Key() == rel.Key() {
			return types.Relationship{}, nil, fmt.Errorf("%w: %s", ErrDuplicateRelationship, rel.Label())
		}
	}

	var replaced *types.Relationship
	kept := s.rels[:0]
	for _, r := range s.rels {
		if r.From.ModelID == rel.From.ModelID && r.From.FieldID == rel.From.FieldID {
			rc := r
			replaced = &rc
			continue
		}
		kept = append(kept, r)
	}
	s.rels = append(kept, rel)
	fm.Fields[ffi].RelationshipData = rel.Data()
	s.reindex()
	return rel, replaced, nil
}

// RemoveRelationship deletes a relationship and clears the source field's
// relationship_data. It returns the removed edge.
func (s *Store) RemoveRelationship(id string) (types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return types.Relationship{}, fmt.Errorf("%w: %s", ErrRelationshipNotFound, id)
	}
	rel := s.rels[i]
	s.rels = append(s.rels[:i], s.rels[i+1:]...)

	if mi := s.modelIndex(rel.From.ModelID); mi >= 0 {
		if f, _ := s.models[mi].FieldByID(rel.From.FieldID); f != nil && f.RelationshipData != nil &&
			f.RelationshipData.References == rel.Data().References {
			f.RelationshipData = nil
		}
	}
	s.reindex()
	return rel, nil
}

// ── internals (callers hold mu) ─────────────────────────────────────────────

func (s *Store) modelIndex(id string) int {
	for i := range s.models {
		if s.models[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) modelByName(name string) *types.Model {
	for i := range s.models {
		if s.models[i].Name == name {
			return &s.models[i]
		}
	}
	return nil
}

func (s *Store) resolve(ref types.FieldRef) (*types.Model, int, error) {
	mi := s.modelIndex(ref.ModelID)
	if mi < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrModelNotFound, ref.ModelID)
	}
	m := &s.models[mi]
	fi := -1
	if ref.FieldID != "" {
		_, fi = m.FieldByID(ref.FieldID)
	}
	if fi < 0 && ref.FieldName != "" {
		fi = m.FieldIndex(ref.FieldName)
	}
	if fi < 0 {
		return nil, -1, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, m.Name, ref.FieldName)
	}
	return m, fi, nil
}

func buildRelationship(fm *types.Model, ffi int, tm *types.Model, tfi int, typ types.RelationshipType) types.Relationship {
	return types.Relationship{
		ID:   types.RelationshipID(fm.ID, fm.Fields[ffi].ID, tm.ID, tm.Fields[tfi].ID),
		From: types.SourceEndpoint(fm, ffi),
		To:   types.TargetEndpoint(tm, tfi),
		Type: typ,
	}
}

// rederiveOutbound rebuilds the outbound relationship of one field from its
// relationship_data and returns the edges it dropped.
func (s *Store) rederiveOutbound(modelID, fieldID string) []types.Relationship {
	var dropped []types.Relationship
	kept := s.rels[:0]
	for _, r := range s.rels {
		if r.From.ModelID == modelID && r.From.FieldID == fieldID {
			dropped = append(dropped, r)
			continue
		}
		kept = append(kept, r)
	}
	s.rels = kept

	mi := s.modelIndex(modelID)
	if mi < 0 {
		return dropped
	}
	fm := &s.models[mi]
	f, ffi := fm.FieldByID(fieldID)
	if f == nil || f.RelationshipData == nil || !f.RelationshipData.RelationshipType.Valid() {
		s.reindex()
		return dropped
	}
	tm := s.modelByName(f.RelationshipData.References.Model)
	if tm == nil {
		s.reindex()
		return dropped
	}
	tfi := tm.FieldIndex(f.RelationshipData.References.Field)
	if tfi < 0 || (tm.ID == fm.ID && tfi == ffi) {
		s.reindex()
		return dropped
	}
	rel := buildRelationship(fm, ffi, tm, tfi, f.RelationshipData.RelationshipType)
	s.rels = append(s.rels, rel)
	s.reindex()

	// A re-derived edge that matches one of the dropped ones is not a loss.
	out := dropped[:0]
	for _, d := range dropped {
		if d.Key() != rel.Key() {
			out = append(out, d)
		}
	}
	return out
}

// rederiveInbound re-derives fields in other models whose relationship_data
// points at modelName but currently has no edge, e.g. after the target model
// or field appears.
func (s *Store) rederiveInbound(modelName string) {
	have := make(map[string]bool, len(s.rels))
	for _, r := range s.rels {
		have[r.From.ModelID+"\x00"+r.From.FieldID] = true
	}
	for mi := range s.models {
		for fi := range s.models[mi].Fields {
			f := &s.models[mi].Fields[fi]
			if f.RelationshipData == nil || f.RelationshipData.References.Model != modelName {
				continue
			}
			if have[s.models[mi].ID+"\x00"+f.ID] {
				continue
			}
			s.rederiveOutbound(s.models[mi].ID, f.ID)
		}
	}
}

// retarget rewrites matching relationship_data references in place.
func (s *Store) retarget(rewrite func(ref *types.Reference) bool) []types.FieldRef {
	var refs []types.FieldRef
	for mi := range s.models {
		for fi := range s.models[mi].Fields {
			f := &s.models[mi].Fields[fi]
			if f.RelationshipData == nil {
				continue
			}
			if rewrite(&f.RelationshipData.References) {
				refs = append(refs, types.FieldRef{ModelID: s.models[mi].ID, FieldID: f.ID, FieldName: f.Name})
			}
		}
	}
	return refs
}

// clearReferences removes matching relationship_data.
func (s *Store) clearReferences(match func(ref types.Reference) bool) []types.FieldRef {
	var refs []types.FieldRef
	for mi := range s.models {
		for fi := range s.models[mi].Fields {
			f := &s.models[mi].Fields[fi]
			if f.RelationshipData == nil || !match(f.RelationshipData.References) {
				continue
			}
			f.RelationshipData = nil
			refs = append(refs, types.FieldRef{ModelID: s.models[mi].ID, FieldID: f.ID, FieldName: f.Name})
		}
	}
	return refs
}

// refreshEndpoints recomputes every endpoint from the current models,
// dropping edges whose endpoints no longer resolve and later duplicates.
func (s *Store) refreshEndpoints() []types.Relationship {
	var dropped []types.Relationship
	seen := make(map[types.RelationshipKey]bool, len(s.rels))
	kept := s.rels[:0]
	for _, r := range s.rels {
		fm, ffi, err1 := s.resolve(types.FieldRef{ModelID: r.From.ModelID, FieldID: r.From.FieldID, FieldName: r.From.FieldName})
		tm, tfi, err2 := s.resolve(types.FieldRef{ModelID: r.To.ModelID, FieldID: r.To.FieldID, FieldName: r.To.FieldName})
		if err1 != nil || err2 != nil {
			dropped = append(dropped, r)
			continue
		}
		nr := buildRelationship(fm, ffi, tm, tfi, r.Type)
		if seen[nr.Key()] {
			dropped = append(dropped, r)
			continue
		}
		seen[nr.Key()] = true
		kept = append(kept, nr)
	}
	s.rels = kept
	s.reindex()
	return dropped
}

func (s *Store) reindex() {
	s.byModel = make(map[string][]int)
	s.byID = make(map[string]int, len(s.rels))
	for i, r := range s.rels {
		s.byID[r.ID] = i
		s.byModel[r.From.ModelID] = append(s.byModel[r.From.ModelID], i)
		if r.To.ModelID != r.From.ModelID {
			s.byModel[r.To.ModelID] = append(s.byModel[r.To.ModelID], i)
		}
	}
}

func checkFieldNames(m types.Model) error {
	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if seen[f.Name] {
			return DuplicateFieldName(m.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
