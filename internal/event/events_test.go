package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

func TestNewRelationshipAdded(t *testing.T) {
	rel := types.Relationship{
		ID:   "o-o2-u-u1",
		From: types.Endpoint{ModelID: "o", ModelName: "Order", FieldName: "user_id"},
		To:   types.Endpoint{ModelID: "u", ModelName: "User", FieldName: "id"},
		Type: types.OneToMany,
	}
	evt := NewRelationshipAdded("p1", rel)

	assert.Equal(t, RelationshipAdded, evt.EventType)
	assert.Equal(t, "p1", evt.ProjectID)
	assert.Equal(t, CategoryGraph, evt.Category)
	assert.NotEmpty(t, evt.ID)
	assert.Contains(t, evt.Summary, "Order.user_id")
	require.Len(t, evt.Affected, 3)
	assert.Equal(t, EntityRef{Kind: "relationship", ID: rel.ID, Role: "subject"}, evt.Affected[0])

	var p RelationshipPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, rel, p.Relationship)
}

func TestNewSyncFailed(t *testing.T) {
	evt := NewSyncFailed("p1", SyncPayload{Op: "update_model", EntityKind: "model", EntityID: "7", Message: "boom", Retryable: true})
	assert.Equal(t, SyncFailed, evt.EventType)
	assert.Equal(t, "update_model failed: boom", evt.Summary)
}

type pubFunc func(ctx context.Context, evt CanvasEvent)

func (f pubFunc) Publish(ctx context.Context, evt CanvasEvent) { f(ctx, evt) }

func TestFanout_OrderAndDetach(t *testing.T) {
	f := NewFanout()
	var order []string
	detach := f.Attach(func(evt CanvasEvent) { order = append(order, "a:"+evt.EventType) })
	f.Attach(func(evt CanvasEvent) { order = append(order, "b:"+evt.EventType) })
	f.SetPublisher(pubFunc(func(_ context.Context, evt CanvasEvent) { order = append(order, "bus:"+evt.EventType) }))

	f.Record(context.Background(), NewZoomChanged("p", 1.2))
	detach()
	f.Record(context.Background(), NewZoomChanged("p", 1.3))

	assert.Equal(t, []string{
		"a:zoom_changed", "b:zoom_changed", "bus:zoom_changed",
		"b:zoom_changed", "bus:zoom_changed",
	}, order)
}
