package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

func rd(typ types.RelationshipType, model, field string) *types.RelationshipData {
	return &types.RelationshipData{RelationshipType: typ, References: types.Reference{Model: model, Field: field}}
}

func scenarioA() []types.Model {
	return []types.Model{
		{ID: "User", Name: "User", Fields: []types.Field{
			{ID: "1", Name: "id", FieldType: types.FieldInteger},
			{ID: "2", Name: "email", FieldType: types.FieldEmail},
		}},
		{ID: "Order", Name: "Order", Fields: []types.Field{
			{ID: "3", Name: "id", FieldType: types.FieldInteger},
			{ID: "4", Name: "user_id", FieldType: types.FieldInteger, RelationshipData: rd(types.OneToMany, "User", "id")},
		}},
	}
}

func TestReconcile_ScenarioA(t *testing.T) {
	res := New(zaptest.NewLogger(t)).Reconcile(scenarioA())

	require.Len(t, res.Relationships, 1)
	assert.Empty(t, res.Dropped)

	r := res.Relationships[0]
	assert.Equal(t, "Order-4-User-1", r.ID)
	assert.Equal(t, types.OneToMany, r.Type)
	assert.Equal(t, types.Endpoint{
		ModelID: "Order", FieldID: "4", FieldName: "user_id", FieldType: types.FieldInteger,
		ModelName: "Order", FieldIndex: 1, RelativeX: 256, RelativeY: 120,
	}, r.From)
	assert.Equal(t, types.Endpoint{
		ModelID: "User", FieldID: "1", FieldName: "id", FieldType: types.FieldInteger,
		ModelName: "User", FieldIndex: 0, RelativeX: 0, RelativeY: 80,
	}, r.To)
}

func TestReconcile_Deterministic(t *testing.T) {
	models := []types.Model{
		{ID: "a", Name: "A", Fields: []types.Field{
			{ID: "a1", Name: "id"},
			{ID: "a2", Name: "b_id", RelationshipData: rd(types.OneToOne, "B", "id")},
			{ID: "a3", Name: "c_id", RelationshipData: rd(types.ManyToMany, "C", "id")},
		}},
		{ID: "b", Name: "B", Fields: []types.Field{
			{ID: "b1", Name: "id"},
			{ID: "b2", Name: "parent", RelationshipData: rd(types.OneToMany, "B", "id")},
		}},
		{ID: "c", Name: "C", Fields: []types.Field{
			{ID: "c1", Name: "id"},
			{ID: "c2", Name: "a_id", RelationshipData: rd(types.OneToMany, "A", "id")},
		}},
	}
	rec := New(nil)

	first, err := json.Marshal(rec.Reconcile(models).Relationships)
	require.NoError(t, err)
	second, err := json.Marshal(rec.Reconcile(models).Relationships)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	var ids []string
	for _, r := range rec.Reconcile(models).Relationships {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a-a2-b-b1", "a-a3-c-c1", "b-b2-b-b1", "c-c2-a-a1"}, ids)
}

func TestReconcile_BrokenReferences(t *testing.T) {
	tests := []struct {
		name   string
		ref    *types.RelationshipData
		reason string
	}{
		{"missing model", rd(types.OneToMany, "Ghost", "id"), ReasonModelNotFound},
		{"missing field", rd(types.OneToMany, "User", "nope"), ReasonFieldNotFound},
		{"bad type", rd("2:2", "User", "id"), ReasonInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := scenarioA()
			models[1].Fields[1].RelationshipData = tt.ref

			var res Result
			assert.NotPanics(t, func() { res = New(nil).Reconcile(models) })
			assert.Empty(t, res.Relationships)
			require.Len(t, res.Dropped, 1)
			assert.Equal(t, tt.reason, res.Dropped[0].Reason)
			assert.Equal(t, "user_id", res.Dropped[0].FieldName)
			assert.Contains(t, res.Dropped[0].Error(), tt.ref.References.Model)
		})
	}
}

func TestReconcile_SelfFieldDropped(t *testing.T) {
	models := []types.Model{{ID: "n", Name: "Node", Fields: []types.Field{
		{ID: "n1", Name: "id", RelationshipData: rd(types.OneToOne, "Node", "id")},
	}}}
	res := New(nil).Reconcile(models)
	assert.Empty(t, res.Relationships)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, ReasonSelfReference, res.Dropped[0].Reason)
}

func TestReconcile_IndicesFollowFieldOrder(t *testing.T) {
	models := scenarioA()
	// Move user_id to the front of Order.
	models[1].Fields[0], models[1].Fields[1] = models[1].Fields[1], models[1].Fields[0]

	res := New(nil).Reconcile(models)
	require.Len(t, res.Relationships, 1)
	assert.Equal(t, 0, res.Relationships[0].From.FieldIndex)
	assert.Equal(t, 80.0, res.Relationships[0].From.RelativeY)
}

func TestReconcile_Empty(t *testing.T) {
	res := New(nil).Reconcile(nil)
	assert.Empty(t, res.Relationships)
	assert.Empty(t, res.Dropped)
}
