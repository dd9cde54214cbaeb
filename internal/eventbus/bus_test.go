package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/layoutstore"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

func TestBus_DispatchInOrder(t *testing.T) {
	bus := New(16, zaptest.NewLogger(t))

	var mu sync.Mutex
	var seen []string
	bus.Subscribe("collector", HandlerFunc(func(_ context.Context, evt event.CanvasEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.EventType)
		return nil
	}))
	bus.Subscribe("failing", HandlerFunc(func(context.Context, event.CanvasEvent) error {
		return errors.New("ignored")
	}))

	bus.Start(context.Background())
	bus.Publish(context.Background(), event.NewZoomChanged("p", 1.1))
	bus.Publish(context.Background(), event.NewGraphLoaded("p", event.GraphLoadedPayload{}))
	bus.Stop()

	assert.Equal(t, []string{event.ZoomChanged, event.GraphLoaded}, seen)

	// Publishing after Stop is dropped, not a panic.
	assert.NotPanics(t, func() { bus.Publish(context.Background(), event.NewZoomChanged("p", 1)) })
	bus.Stop()
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := New(1, nil)
	bus.Publish(context.Background(), event.NewZoomChanged("p", 1))
	bus.Publish(context.Background(), event.NewZoomChanged("p", 1.1))
	assert.Len(t, bus.events, 1)
}

func TestLayoutConsumer(t *testing.T) {
	ctx := context.Background()
	store := layoutstore.NewMemoryStore()
	c := NewLayoutConsumer(store)

	require.NoError(t, c.HandleEvent(ctx, event.NewPositionCommitted("p", event.PositionPayload{ModelID: "tmp", Position: types.Position{X: 1, Y: 2}})))
	require.NoError(t, c.HandleEvent(ctx, event.NewPositionChanged("p", event.PositionPayload{ModelID: "other", Position: types.Position{X: 9}})))
	require.NoError(t, c.HandleEvent(ctx, event.NewModelRekeyed("p", event.RekeyPayload{OldID: "tmp", NewID: "7"})))

	got, err := store.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Position{"7": {X: 1, Y: 2}}, got)

	require.NoError(t, c.HandleEvent(ctx, event.NewModelRemoved("p", event.ModelPayload{Model: types.Model{ID: "7"}})))
	got, _ = store.Load(ctx, "p")
	assert.Empty(t, got)
}

func TestLogConsumer(t *testing.T) {
	c := NewLogConsumer(zap.NewNop())
	evt := event.NewSyncFailed("p", event.SyncPayload{Op: "update_model", EntityKind: "model", EntityID: "1"})
	assert.NoError(t, c.HandleEvent(context.Background(), evt))
	assert.NoError(t, NewMetricsConsumer().HandleEvent(context.Background(), evt))
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaConsumer(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	c := &KafkaConsumer{writer: w}

	require.NoError(t, c.HandleEvent(ctx, event.NewPositionChanged("p", event.PositionPayload{ModelID: "1"})))
	require.NoError(t, c.HandleEvent(ctx, event.NewInteractionChanged("p", "idle", nil)))
	require.NoError(t, c.HandleEvent(ctx, event.NewZoomChanged("p", 1.2)))
	require.NoError(t, c.HandleEvent(ctx, event.NewModelAdded("p", event.ModelPayload{Model: types.Model{ID: "1", Name: "User"}})))
	require.NoError(t, c.HandleEvent(ctx, event.NewPositionCommitted("p", event.PositionPayload{ModelID: "1"})))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "p", string(w.msgs[0].Key))
	assert.Equal(t, event.ModelAdded, string(w.msgs[0].Headers[0].Value))

	var got event.CanvasEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &got))
	assert.Equal(t, event.PositionCommitted, got.EventType)

	require.NoError(t, c.Close())
	assert.True(t, w.closed)
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}
