package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// seedStore builds User{id,email} and Order{id,user_id} with
// Order.user_id -> User.id (1:M).
func seedStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.AddModel(types.Model{
		ID: "u", Name: "User",
		Fields: []types.Field{
			{ID: "u1", Name: "id", FieldType: types.FieldInteger},
			{ID: "u2", Name: "email", FieldType: types.FieldEmail},
		},
	}))
	require.NoError(t, s.AddModel(types.Model{
		ID: "o", Name: "Order",
		Fields: []types.Field{
			{ID: "o1", Name: "id", FieldType: types.FieldInteger},
			{ID: "o2", Name: "user_id", FieldType: types.FieldInteger, RelationshipData: &types.RelationshipData{
				RelationshipType: types.OneToMany,
				References:       types.Reference{Model: "User", Field: "id"},
			}},
		},
	}))
	return s
}

func TestAddModel_DerivesRelationships(t *testing.T) {
	s := seedStore(t)

	rels := s.Relationships()
	require.Len(t, rels, 1)
	r := rels[0]
	assert.Equal(t, "o-o2-u-u1", r.ID)
	assert.Equal(t, "user_id", r.From.FieldName)
	assert.Equal(t, 1, r.From.FieldIndex)
	assert.Equal(t, 120.0, r.From.RelativeY)
	assert.Equal(t, 256.0, r.From.RelativeX)
	assert.Equal(t, "User", r.To.ModelName)
	assert.Equal(t, types.OneToMany, r.Type)

	assert.Len(t, s.RelationshipsForModel("u"), 1)
	assert.Len(t, s.RelationshipsForModel("o"), 1)
}

func TestAddModel_TargetArrivesLater(t *testing.T) {
	s := New()
	require.NoError(t, s.AddModel(types.Model{ID: "o", Name: "Order", Fields: []types.Field{
		{ID: "o1", Name: "user_id", RelationshipData: &types.RelationshipData{
			RelationshipType: types.OneToOne, References: types.Reference{Model: "User", Field: "id"},
		}},
	}}))
	assert.Empty(t, s.Relationships())

	require.NoError(t, s.AddModel(types.Model{ID: "u", Name: "User", Fields: []types.Field{{ID: "u1", Name: "id"}}}))
	assert.Len(t, s.Relationships(), 1)
}

func TestAddModel_Validation(t *testing.T) {
	s := New()

	err := s.AddModel(types.Model{ID: "a", Name: "  "})
	assert.ErrorIs(t, err, ErrEmptyModelName)
	assert.True(t, IsValidation(err))

	err = s.AddModel(types.Model{ID: "a", Name: "A", Fields: []types.Field{{ID: "1", Name: "x"}, {ID: "2", Name: "x"}}})
	assert.ErrorIs(t, err, ErrDuplicateFieldName)

	require.NoError(t, s.AddModel(types.Model{ID: "a", Name: "A"}))
	assert.ErrorIs(t, s.AddModel(types.Model{ID: "a", Name: "B"}), ErrDuplicateModel)
}

func TestRemoveModel_Cascade(t *testing.T) {
	cases := []struct {
		name    string
		remove  string
		cleared int
	}{
		{"target", "u", 1},
		{"source", "o", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := seedStore(t)
			removed, c, err := s.RemoveModel(tc.remove)
			require.NoError(t, err)
			assert.Equal(t, tc.remove, removed.ID)
			assert.Len(t, c.Relationships, 1)
			assert.Len(t, c.Cleared, tc.cleared)

			for _, r := range s.Relationships() {
				assert.False(t, r.Touches(tc.remove), "relationship %s still touches %s", r.ID, tc.remove)
			}
			assert.Empty(t, s.RelationshipsForModel(tc.remove))
		})
	}
}

func TestRemoveModel_ClearsReferencingField(t *testing.T) {
	s := seedStore(t)
	_, c, err := s.RemoveModel("u")
	require.NoError(t, err)

	require.Len(t, c.Cleared, 1)
	assert.Equal(t, types.FieldRef{ModelID: "o", FieldID: "o2", FieldName: "user_id"}, c.Cleared[0])
	f, _, ok := s.Field("o", "o2")
	require.True(t, ok)
	assert.Nil(t, f.RelationshipData)
}

func TestRemoveModel_NotFound(t *testing.T) {
	_, _, err := New().RemoveModel("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestUpdateModel_RenameCascades(t *testing.T) {
	s := seedStore(t)
	m, c, err := s.UpdateModel("u", types.ModelPatch{Name: types.Ptr("Account")})
	require.NoError(t, err)
	assert.Equal(t, "Account", m.Name)

	require.Len(t, c.Retargeted, 1)
	f, _, _ := s.Field("o", "o2")
	assert.Equal(t, "Account", f.RelationshipData.References.Model)

	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "Account", rels[0].To.ModelName)
}

func TestUpdateModel_Idempotent(t *testing.T) {
	s := seedStore(t)
	p := types.ModelPatch{Name: types.Ptr("Account"), Description: types.Ptr("people")}

	_, _, err := s.UpdateModel("u", p)
	require.NoError(t, err)
	once := s.Snapshot()
	_, c, err := s.UpdateModel("u", p)
	require.NoError(t, err)

	assert.True(t, c.Empty())
	assert.Equal(t, once, s.Snapshot())
}

func TestUpdateModel_EmptyName(t *testing.T) {
	s := seedStore(t)
	_, _, err := s.UpdateModel("u", types.ModelPatch{Name: types.Ptr("")})
	assert.ErrorIs(t, err, ErrEmptyModelName)

	m, _ := s.Model("u")
	assert.Equal(t, "User", m.Name)
}

func TestAddField_DuplicateName(t *testing.T) {
	s := seedStore(t)
	err := s.AddField("u", types.Field{ID: "u3", Name: "email"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateFieldName)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "User", ve.Model)
	assert.Equal(t, "email", ve.Field)

	// Case-sensitive.
	assert.NoError(t, s.AddField("u", types.Field{ID: "u3", Name: "Email"}))
}

func TestUpdateField_RenameCascades(t *testing.T) {
	s := seedStore(t)
	f, c, err := s.UpdateField("u", "u1", types.FieldPatch{Name: types.Ptr("pk")})
	require.NoError(t, err)
	assert.Equal(t, "pk", f.Name)
	assert.Len(t, c.Retargeted, 1)
	assert.Empty(t, c.Relationships)

	src, _, _ := s.Field("o", "o2")
	assert.Equal(t, "pk", src.RelationshipData.References.Field)
	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "pk", rels[0].To.FieldName)
}

func TestUpdateField_DuplicateName(t *testing.T) {
	s := seedStore(t)
	_, _, err := s.UpdateField("u", "u2", types.FieldPatch{Name: types.Ptr("id")})
	assert.ErrorIs(t, err, ErrDuplicateFieldName)

	// Renaming to its own name is not a conflict.
	_, _, err = s.UpdateField("u", "u2", types.FieldPatch{Name: types.Ptr("email")})
	assert.NoError(t, err)
}

func TestUpdateField_ClearRelationship(t *testing.T) {
	s := seedStore(t)
	_, c, err := s.UpdateField("o", "o2", types.FieldPatch{ClearRelationship: true})
	require.NoError(t, err)
	assert.Len(t, c.Relationships, 1)
	assert.Empty(t, s.Relationships())
}

func TestUpdateField_ChangeRelationshipType(t *testing.T) {
	s := seedStore(t)
	_, c, err := s.UpdateField("o", "o2", types.FieldPatch{RelationshipData: &types.RelationshipData{
		RelationshipType: types.OneToOne,
		References:       types.Reference{Model: "User", Field: "id"},
	}})
	require.NoError(t, err)
	assert.Empty(t, c.Relationships)

	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, types.OneToOne, rels[0].Type)
}

func TestRemoveField_ReindexesEndpoints(t *testing.T) {
	s := seedStore(t)
	removed, idx, c, err := s.RemoveField("o", "o1")
	require.NoError(t, err)
	assert.Equal(t, "id", removed.Name)
	assert.Equal(t, 0, idx)
	assert.True(t, c.Empty())

	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, 0, rels[0].From.FieldIndex)
	assert.Equal(t, 80.0, rels[0].From.RelativeY)
}

func TestRemoveField_TargetCascade(t *testing.T) {
	s := seedStore(t)
	_, _, c, err := s.RemoveField("u", "u1")
	require.NoError(t, err)
	assert.Len(t, c.Relationships, 1)
	assert.Len(t, c.Cleared, 1)
	assert.Empty(t, s.Relationships())
}

func TestAddRelationship(t *testing.T) {
	s := seedStore(t)
	rel, replaced, err := s.AddRelationship(
		types.FieldRef{ModelID: "u", FieldID: "u2"},
		types.FieldRef{ModelID: "o", FieldID: "o1"},
		types.OneToOne,
	)
	require.NoError(t, err)
	assert.Nil(t, replaced)
	assert.Equal(t, "u-u2-o-o1", rel.ID)
	assert.Len(t, s.Relationships(), 2)

	f, _, _ := s.Field("u", "u2")
	require.NotNil(t, f.RelationshipData)
	assert.Equal(t, types.Reference{Model: "Order", Field: "id"}, f.RelationshipData.References)
}

func TestAddRelationship_Duplicate(t *testing.T) {
	s := seedStore(t)
	_, _, err := s.AddRelationship(
		types.FieldRef{ModelID: "o", FieldName: "user_id"},
		types.FieldRef{ModelID: "u", FieldName: "id"},
		types.ManyToMany,
	)
	assert.ErrorIs(t, err, ErrDuplicateRelationship)
}

func TestAddRelationship_ReplacesOutbound(t *testing.T) {
	s := seedStore(t)
	rel, replaced, err := s.AddRelationship(
		types.FieldRef{ModelID: "o", FieldID: "o2"},
		types.FieldRef{ModelID: "u", FieldID: "u2"},
		types.OneToOne,
	)
	require.NoError(t, err)
	require.NotNil(t, replaced)
	assert.Equal(t, "o-o2-u-u1", replaced.ID)

	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, rel.ID, rels[0].ID)
}

func TestAddRelationship_SameModel(t *testing.T) {
	s := seedStore(t)
	_, _, err := s.AddRelationship(
		types.FieldRef{ModelID: "u", FieldID: "u2"},
		types.FieldRef{ModelID: "u", FieldID: "u1"},
		types.OneToOne,
	)
	require.NoError(t, err)
	assert.Len(t, s.RelationshipsForModel("u"), 2)

	_, _, err = s.AddRelationship(
		types.FieldRef{ModelID: "u", FieldID: "u1"},
		types.FieldRef{ModelID: "u", FieldID: "u1"},
		types.OneToOne,
	)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddRelationship_MissingEndpoint(t *testing.T) {
	s := seedStore(t)
	_, _, err := s.AddRelationship(types.FieldRef{ModelID: "x", FieldID: "1"}, types.FieldRef{ModelID: "u", FieldID: "u1"}, types.OneToOne)
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, _, err = s.AddRelationship(types.FieldRef{ModelID: "o", FieldID: "zz"}, types.FieldRef{ModelID: "u", FieldID: "u1"}, types.OneToOne)
	assert.ErrorIs(t, err, ErrFieldNotFound)
	_, _, err = s.AddRelationship(types.FieldRef{ModelID: "o", FieldID: "o1"}, types.FieldRef{ModelID: "u", FieldID: "u1"}, "9:9")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRemoveRelationship_ClearsSource(t *testing.T) {
	s := seedStore(t)
	rel, err := s.RemoveRelationship("o-o2-u-u1")
	require.NoError(t, err)
	assert.Equal(t, "user_id", rel.From.FieldName)
	assert.Empty(t, s.Relationships())

	f, _, _ := s.Field("o", "o2")
	assert.Nil(t, f.RelationshipData)

	_, err = s.RemoveRelationship("o-o2-u-u1")
	assert.ErrorIs(t, err, ErrRelationshipNotFound)
}

func TestReplaceModel_Rekeys(t *testing.T) {
	s := seedStore(t)
	c, err := s.ReplaceModel("u", types.Model{
		ID: "42", Name: "User",
		Fields: []types.Field{
			{ID: "100", Name: "id", FieldType: types.FieldInteger},
			{ID: "101", Name: "email", FieldType: types.FieldEmail},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, c.Relationships)

	_, ok := s.Model("u")
	assert.False(t, ok)
	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "o-o2-42-100", rels[0].ID)
	assert.Len(t, s.RelationshipsForModel("42"), 1)
	assert.Equal(t, []string{"42", "o"}, s.ModelIDs())
}

func TestReplaceField_Rekeys(t *testing.T) {
	s := seedStore(t)
	_, err := s.ReplaceField("o", "o2", types.Field{
		ID: "900", Name: "user_id", FieldType: types.FieldInteger,
		RelationshipData: &types.RelationshipData{
			RelationshipType: types.OneToMany,
			References:       types.Reference{Model: "User", Field: "id"},
		},
	})
	require.NoError(t, err)

	rels := s.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "o-900-u-u1", rels[0].ID)
}

func TestInsertModel_RestoresPosition(t *testing.T) {
	s := seedStore(t)
	removed, _, err := s.RemoveModel("u")
	require.NoError(t, err)

	require.NoError(t, s.InsertModel(0, removed))
	assert.Equal(t, []string{"u", "o"}, s.ModelIDs())
}

func TestSnapshotRestore(t *testing.T) {
	s := seedStore(t)
	snap := s.Snapshot()

	_, _, err := s.RemoveModel("u")
	require.NoError(t, err)
	s.Restore(snap)

	assert.Equal(t, snap, s.Snapshot())
	assert.Len(t, s.RelationshipsForModel("u"), 1)
}
