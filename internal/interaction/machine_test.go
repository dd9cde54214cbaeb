package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

var (
	userID     = types.FieldRef{ModelID: "User", FieldID: "1", FieldName: "id"}
	orderUser  = types.FieldRef{ModelID: "Order", FieldID: "4", FieldName: "user_id"}
	userEmail  = types.FieldRef{ModelID: "User", FieldID: "2", FieldName: "email"}
	modelUser  = types.Selection{Kind: types.ItemModel, ID: "User"}
	relOrderFK = types.Selection{Kind: types.ItemRelationship, ID: "Order-4-User-1"}
)

func selecting(t *testing.T, typ types.RelationshipType) *Machine {
	t.Helper()
	m := New()
	require.NoError(t, m.OpenPicker())
	require.NoError(t, m.ChooseType(typ))
	return m
}

func TestScenarioB(t *testing.T) {
	m := New()
	assert.Equal(t, Idle, m.State().Kind)

	require.NoError(t, m.OpenPicker())
	assert.Equal(t, RelationshipPending, m.State().Kind)

	require.NoError(t, m.ChooseType(types.OneToOne))
	st := m.State()
	assert.Equal(t, RelationshipSelecting, st.Kind)
	assert.Equal(t, types.OneToOne, st.RelationshipType)
	assert.Empty(t, st.Selected)

	assert.Nil(t, m.ClickField(userID))
	assert.Len(t, m.State().Selected, 1)

	eff := m.ClickField(orderUser)
	require.IsType(t, CreateRelationship{}, eff)
	cr := eff.(CreateRelationship)
	assert.Equal(t, userID, cr.From)
	assert.Equal(t, orderUser, cr.To)
	assert.Equal(t, types.OneToOne, cr.Type)

	st = m.State()
	assert.Equal(t, Idle, st.Kind)
	assert.Empty(t, st.Selected)
}

func TestClickField_Idempotent(t *testing.T) {
	m := selecting(t, types.OneToMany)
	assert.Nil(t, m.ClickField(userID))
	assert.Nil(t, m.ClickField(userID))
	assert.Len(t, m.State().Selected, 1)
	assert.Equal(t, RelationshipSelecting, m.State().Kind)
}

func TestClickField_SameModelAllowed(t *testing.T) {
	m := selecting(t, types.OneToOne)
	m.ClickField(userEmail)
	eff := m.ClickField(userID)
	assert.IsType(t, CreateRelationship{}, eff)
}

func TestClickField_IgnoredOutsideSelecting(t *testing.T) {
	m := New()
	assert.Nil(t, m.ClickField(userID))
	assert.Equal(t, Idle, m.State().Kind)
}

func TestEscape_FromEveryState(t *testing.T) {
	setups := map[string]func(m *Machine){
		"pending":   func(m *Machine) { _ = m.OpenPicker() },
		"selecting": func(m *Machine) { _ = m.OpenPicker(); _ = m.ChooseType(types.OneToOne); m.ClickField(userID) },
		"selected":  func(m *Machine) { _ = m.SelectModel("User") },
		"confirm":   func(m *Machine) { _ = m.SelectModel("User"); _ = m.RequestDelete() },
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			m := New()
			setup(m)
			require.NotEqual(t, Idle, m.State().Kind)
			require.NoError(t, m.PressKey(KeyEscape, false))
			assert.Equal(t, Idle, m.State().Kind)
			assert.Empty(t, m.State().Selected)
			assert.Nil(t, m.State().Item)
		})
	}
}

func TestClickCanvas_CancelsRelationshipMode(t *testing.T) {
	m := selecting(t, types.ManyToMany)
	m.ClickField(userID)
	m.ClickCanvas()
	assert.Equal(t, Idle, m.State().Kind)

	require.NoError(t, m.OpenPicker())
	m.ClickCanvas()
	assert.Equal(t, Idle, m.State().Kind)
}

func TestOpenPicker_Toggles(t *testing.T) {
	m := selecting(t, types.OneToOne)
	require.NoError(t, m.OpenPicker())
	assert.Equal(t, Idle, m.State().Kind)
}

func TestClosePicker(t *testing.T) {
	m := New()
	require.NoError(t, m.OpenPicker())
	m.ClosePicker()
	assert.Equal(t, Idle, m.State().Kind)
}

func TestChooseType_Errors(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.ChooseType(types.OneToOne), ErrInvalidTransition)
	require.NoError(t, m.OpenPicker())
	assert.ErrorIs(t, m.ChooseType("1:N"), ErrInvalidType)
	assert.Equal(t, RelationshipPending, m.State().Kind)
}

func TestSelection_SuppressedInRelationshipMode(t *testing.T) {
	m := selecting(t, types.OneToOne)
	require.NoError(t, m.SelectModel("User"))
	require.NoError(t, m.SelectRelationship(relOrderFK.ID))
	assert.Equal(t, RelationshipSelecting, m.State().Kind)
	assert.Nil(t, m.State().Item)
}

func TestSelection(t *testing.T) {
	m := New()
	require.NoError(t, m.SelectModel("User"))
	assert.Equal(t, &modelUser, m.State().Item)

	require.NoError(t, m.SelectRelationship(relOrderFK.ID))
	assert.Equal(t, &relOrderFK, m.State().Item)

	m.ClickCanvas()
	assert.Equal(t, Idle, m.State().Kind)
}

func TestDeleteFlow(t *testing.T) {
	m := New()
	require.NoError(t, m.SelectModel("User"))
	require.NoError(t, m.RequestDelete())
	assert.Equal(t, DeleteConfirm, m.State().Kind)

	require.NoError(t, m.CancelDelete())
	assert.Equal(t, ItemSelected, m.State().Kind)

	require.NoError(t, m.PressKey(KeyBackspace, false))
	assert.Equal(t, DeleteConfirm, m.State().Kind)

	eff, err := m.ConfirmDelete()
	require.NoError(t, err)
	assert.Equal(t, Delete{Item: modelUser}, eff)
	assert.Equal(t, Idle, m.State().Kind)
}

func TestDelete_InvalidTransitions(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.RequestDelete(), ErrInvalidTransition)
	_, err := m.ConfirmDelete()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, m.CancelDelete(), ErrInvalidTransition)

	require.NoError(t, m.SelectModel("User"))
	require.NoError(t, m.RequestDelete())
	assert.ErrorIs(t, m.SelectModel("Order"), ErrInvalidTransition)
	assert.ErrorIs(t, m.OpenPicker(), ErrInvalidTransition)
}

func TestPressKey_InputFocused(t *testing.T) {
	m := New()
	require.NoError(t, m.SelectModel("User"))
	require.NoError(t, m.PressKey(KeyDelete, true))
	require.NoError(t, m.PressKey(KeyEscape, true))
	assert.Equal(t, ItemSelected, m.State().Kind)
}

func TestPressKey_DeleteWithoutSelection(t *testing.T) {
	m := New()
	require.NoError(t, m.PressKey(KeyDelete, false))
	assert.Equal(t, Idle, m.State().Kind)
}

func TestForgetAndRekey(t *testing.T) {
	m := New()
	require.NoError(t, m.SelectModel("tmp-1"))
	m.Rekey(types.ItemModel, "tmp-1", "42")
	assert.Equal(t, "42", m.State().Item.ID)

	m.Forget(types.Selection{Kind: types.ItemModel, ID: "42"})
	assert.Equal(t, Idle, m.State().Kind)
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, validateTransition(Idle, RelationshipPending))
	assert.ErrorIs(t, validateTransition(Idle, DeleteConfirm), ErrInvalidTransition)
	assert.ErrorIs(t, validateTransition(Kind("bogus"), Idle), ErrInvalidTransition)
}
