package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	g := NewMemory()

	m, err := g.CreateModel(ctx, "p", types.ModelInput{Name: "User"})
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)

	f, err := g.CreateField(ctx, "p", m.ID, types.FieldInput{Name: "id", FieldType: types.FieldInteger})
	require.NoError(t, err)
	assert.Equal(t, "2", f.ID)

	_, err = g.CreateField(ctx, "p", m.ID, types.FieldInput{Name: "id", FieldType: types.FieldInteger})
	assert.ErrorIs(t, err, ErrSyncFailure)

	f, err = g.UpdateField(ctx, "p", m.ID, f.ID, types.FieldPatch{Name: types.Ptr("pk")})
	require.NoError(t, err)
	assert.Equal(t, "pk", f.Name)

	models, err := g.ListModels(ctx, "p")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "pk", models[0].Fields[0].Name)

	require.NoError(t, g.DeleteField(ctx, "p", m.ID, f.ID))
	require.NoError(t, g.DeleteModel(ctx, "p", m.ID))
	assert.Empty(t, g.Models("p"))

	assert.Len(t, g.Calls(), 7)
	assert.Len(t, g.CallsFor(OpCreateField), 2)
}

func TestMemory_FailNext(t *testing.T) {
	ctx := context.Background()
	g := NewMemory()
	g.FailNext(OpCreateModel, nil)
	boom := errors.New("boom")
	g.FailNext(OpCreateModel, boom)

	_, err := g.CreateModel(ctx, "p", types.ModelInput{Name: "A"})
	se, ok := AsSyncError(err)
	require.True(t, ok)
	assert.True(t, se.Retryable())

	_, err = g.CreateModel(ctx, "p", types.ModelInput{Name: "A"})
	assert.ErrorIs(t, err, boom)

	_, err = g.CreateModel(ctx, "p", types.ModelInput{Name: "A"})
	assert.NoError(t, err)
}

func TestMemory_SeedContinuesIDs(t *testing.T) {
	g := NewMemory()
	g.Seed("p", []types.Model{{ID: "10", Name: "A", Fields: []types.Field{{ID: "11", Name: "id"}}}})

	m, err := g.CreateModel(context.Background(), "p", types.ModelInput{Name: "B"})
	require.NoError(t, err)
	assert.Equal(t, "12", m.ID)

	_, err = g.UpdateModel(context.Background(), "p", m.ID, types.ModelPatch{Name: types.Ptr("A")})
	assert.ErrorIs(t, err, ErrSyncFailure)
}
