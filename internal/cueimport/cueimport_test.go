package cueimport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

const shopSchema = `
// People who place orders.
#User: {
	id:     int
	email:  string @designer(type="email", max_length=254, unique)
	bio?:   string @designer(type="text")
	active: bool | *true
}

#Order: {
	id:      int
	user_id: #User.id @designer(rel="1:M")
	// Free-form notes.
	notes?: string
	total:  number
}

#Coupon: {
	code:     string
	order_id: int
}

relationships: [{from: "Coupon.order_id", to: "Order.id", type: "1:1"}]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(shopSchema), "shop.cue")
	require.NoError(t, err)
	require.Len(t, s.Models, 3)

	user := s.Models[0]
	assert.Equal(t, "User", user.Input.Name)
	assert.Equal(t, "People who place orders.", user.Input.Description)
	require.Len(t, user.Fields, 4)

	email := user.Fields[1]
	assert.Equal(t, types.FieldEmail, email.FieldType)
	require.NotNil(t, email.MaxLength)
	assert.Equal(t, 254, *email.MaxLength)
	assert.True(t, email.Unique)

	bio := user.Fields[2]
	assert.Equal(t, "bio", bio.Name)
	assert.Equal(t, types.FieldText, bio.FieldType)
	assert.True(t, bio.Null)

	active := user.Fields[3]
	assert.Equal(t, types.FieldBoolean, active.FieldType)
	assert.Equal(t, "true", active.DefaultValue)

	order, ok := s.Model("Order")
	require.True(t, ok)
	userID := order.Fields[1]
	assert.Equal(t, types.FieldInteger, userID.FieldType)
	require.NotNil(t, userID.RelationshipData)
	assert.Equal(t, types.RelationshipData{
		RelationshipType: types.OneToMany,
		References:       types.Reference{Model: "User", Field: "id"},
	}, *userID.RelationshipData)
	assert.Equal(t, "Free-form notes.", order.Fields[2].HelpText)
	assert.Equal(t, types.FieldDecimal, order.Fields[3].FieldType)

	coupon, _ := s.Model("Coupon")
	require.NotNil(t, coupon.Fields[1].RelationshipData)
	assert.Equal(t, types.OneToOne, coupon.Fields[1].RelationshipData.RelationshipType)
	assert.Equal(t, "Order", coupon.Fields[1].RelationshipData.References.Model)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"syntax":        `#A: {`,
		"unknown type":  `#A: { x: string @designer(type="geometry") }`,
		"bad length":    `#A: { x: string @designer(max_length=0) }`,
		"dangling rel":  `#A: { x: int }` + "\n" + `relationships: [{from: "A.x", to: "B.y"}]`,
		"unknown field": `#A: { x: int }` + "\n" + `relationships: [{from: "A.nope", to: "A.x"}]`,
		"self":          `#A: { x: int }` + "\n" + `relationships: [{from: "A.x", to: "A.x"}]`,
		"bad rel type":  `#A: { x: int, y: int }` + "\n" + `relationships: [{from: "A.x", to: "A.y", type: "2:2"}]`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.cue")
	require.NoError(t, os.WriteFile(path, []byte(shopSchema), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, s.Models, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	gw := gateway.NewMemory()
	gw.Seed("p", []types.Model{
		{ID: "1", Name: "User", Fields: []types.Field{{ID: "2", Name: "id", FieldType: types.FieldInteger}}},
	})
	d, err := designer.New(designer.Options{ProjectID: "p", Gateway: gw, Runner: designer.Inline})
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Load(context.Background()))

	s, err := Parse([]byte(shopSchema), "shop.cue")
	require.NoError(t, err)

	plan := PlanFor(d.Models(), s)
	require.Len(t, plan.Models, 3)
	assert.True(t, plan.Models[0].Exists)
	assert.Equal(t, []string{"id"}, plan.Models[0].Skipped)
	assert.Equal(t, []string{"email", "bio", "active"}, plan.Models[0].Create)
	assert.False(t, plan.Empty())

	_, err = Apply(d, s)
	require.NoError(t, err)

	models := gw.Models("p")
	require.Len(t, models, 3)
	assert.Len(t, models[0].Fields, 4)
	assert.Len(t, d.Relationships(), 2)

	// A second run finds nothing to do.
	again := PlanFor(d.Models(), s)
	assert.True(t, again.Empty())
}
