// Package reconcile rebuilds the canvas Relationship list from the
// relationship_data pointers embedded in persisted fields.
package reconcile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/metrics"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Reasons a reference fails to resolve.
const (
	ReasonModelNotFound = "model_not_found"
	ReasonFieldNotFound = "field_not_found"
	ReasonSelfReference = "self_reference"
	ReasonInvalidType   = "invalid_type"
	ReasonDuplicate     = "duplicate"
)

// ReferenceNotFoundError describes a dropped relationship_data pointer. It is
// reported, never returned as a failure.
type ReferenceNotFoundError struct {
	ModelID   string
	ModelName string
	FieldID   string
	FieldName string
	Reference types.Reference
	Reason    string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s.%s references %s.%s: %s",
		e.ModelName, e.FieldName, e.Reference.Model, e.Reference.Field, e.Reason)
}

// Result is the output of a reconciliation pass.
type Result struct {
	Relationships []types.Relationship
	Dropped       []*ReferenceNotFoundError
}

// Reconciler converts the flat field-embedded format into graph edges.
type Reconciler struct {
	logger *zap.Logger
}

// New creates a Reconciler. A nil logger discards diagnostics.
func New(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger}
}

// Reconcile walks models in stored order, then fields in stored order, and
// emits one Relationship per resolvable relationship_data. The output is a
// pure function of the input.
func (r *Reconciler) Reconcile(models []types.Model) Result {
	byName := make(map[string]int, len(models))
	for i := range models {
		if _, dup := byName[models[i].Name]; !dup {
			byName[models[i].Name] = i
		}
	}

	var res Result
	seen := make(map[types.RelationshipKey]bool)
	for mi := range models {
		src := &models[mi]
		for fi := range src.Fields {
			rd := src.Fields[fi].RelationshipData
			if rd == nil {
				continue
			}

			ti, ok := byName[rd.References.Model]
			if !ok {
				r.drop(&res, src, fi, ReasonModelNotFound)
				continue
			}
			dst := &models[ti]
			tfi := dst.FieldIndex(rd.References.Field)
			if tfi < 0 {
				r.drop(&res, src, fi, ReasonFieldNotFound)
				continue
			}
			if dst.ID == src.ID && tfi == fi {
				r.drop(&res, src, fi, ReasonSelfReference)
				continue
			}
			if !rd.RelationshipType.Valid() {
				r.drop(&res, src, fi, ReasonInvalidType)
				continue
			}

			rel := types.Relationship{
				ID:   types.RelationshipID(src.ID, src.Fields[fi].ID, dst.ID, dst.Fields[tfi].ID),
				From: types.SourceEndpoint(src, fi),
				To:   types.TargetEndpoint(dst, tfi),
				Type: rd.RelationshipType,
			}
			if seen[rel.Key()] {
				r.drop(&res, src, fi, ReasonDuplicate)
				continue
			}
			seen[rel.Key()] = true
			res.Relationships = append(res.Relationships, rel)
		}
	}

	metrics.ReconcileRelationships.Observe(float64(len(res.Relationships)))
	r.logger.Debug("reconciled relationships",
		zap.Int("models", len(models)),
		zap.Int("relationships", len(res.Relationships)),
		zap.Int("dropped", len(res.Dropped)),
	)
	return res
}

func (r *Reconciler) drop(res *Result, src *types.Model, fi int, reason string) {
	f := src.Fields[fi]
	e := &ReferenceNotFoundError{
		ModelID:   src.ID,
		ModelName: src.Name,
		FieldID:   f.ID,
		FieldName: f.Name,
		Reference: f.RelationshipData.References,
		Reason:    reason,
	}
	res.Dropped = append(res.Dropped, e)
	metrics.ReconcileDroppedReferences.WithLabelValues(reason).Inc()
	r.logger.Debug("dropped relationship reference", zap.Error(e))
}
