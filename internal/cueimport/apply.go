package cueimport

import (
	"fmt"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Target is where an import lands. *designer.Designer satisfies it.
type Target interface {
	Models() []types.Model
	AddModel(in types.ModelInput) (types.Model, error)
	AddField(modelID string, in types.FieldInput) (types.Field, error)
}

// PlannedModel is one line of an import plan.
type PlannedModel struct {
	Name    string   `json:"name" yaml:"name"`
	Exists  bool     `json:"exists" yaml:"exists"`
	Create  []string `json:"create" yaml:"create"`
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Plan describes what an import creates. Models and fields that already
// exist by name are left alone.
type Plan struct {
	Models []PlannedModel `json:"models" yaml:"models"`
}

// Empty reports whether the plan creates nothing.
func (p Plan) Empty() bool {
	for _, m := range p.Models {
		if !m.Exists || len(m.Create) > 0 {
			return false
		}
	}
	return true
}

// PlanFor compares the schema against existing models.
func PlanFor(existing []types.Model, s Schema) Plan {
	byName := make(map[string]types.Model, len(existing))
	for _, m := range existing {
		byName[m.Name] = m
	}

	var p Plan
	for _, m := range s.Models {
		cur, exists := byName[m.Input.Name]
		pm := PlannedModel{Name: m.Input.Name, Exists: exists, Create: []string{}}
		for _, f := range m.Fields {
			if exists && cur.FieldIndex(f.Name) >= 0 {
				pm.Skipped = append(pm.Skipped, f.Name)
				continue
			}
			pm.Create = append(pm.Create, f.Name)
		}
		p.Models = append(p.Models, pm)
	}
	return p
}

// Apply creates the missing models first, then their missing fields, so
// relationship_data can point at models defined later in the file.
func Apply(t Target, s Schema) (Plan, error) {
	plan := PlanFor(t.Models(), s)

	ids := make(map[string]string)
	for _, m := range t.Models() {
		ids[m.Name] = m.ID
	}
	for i, pm := range plan.Models {
		if pm.Exists {
			continue
		}
		created, err := t.AddModel(s.Models[i].Input)
		if err != nil {
			return plan, fmt.Errorf("create model %s: %w", pm.Name, err)
		}
		ids[pm.Name] = created.ID
	}

	for i, pm := range plan.Models {
		want := make(map[string]bool, len(pm.Create))
		for _, name := range pm.Create {
			want[name] = true
		}
		for _, f := range s.Models[i].Fields {
			if !want[f.Name] {
				continue
			}
			if _, err := t.AddField(ids[pm.Name], f); err != nil {
				return plan, fmt.Errorf("create field %s.%s: %w", pm.Name, f.Name, err)
			}
		}
	}
	return plan, nil
}
