package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newManager(t *testing.T, maxAge, idle time.Duration) (*Manager, *clock, *gateway.Memory) {
	t.Helper()
	gw := gateway.NewMemory()
	gw.Seed("p1", []types.Model{{ID: "1", Name: "User", Fields: []types.Field{{ID: "2", Name: "id", FieldType: types.FieldInteger}}}})
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	open := func(projectID string, rec event.Recorder) (*designer.Designer, error) {
		return designer.New(designer.Options{ProjectID: projectID, Gateway: gw, Recorder: rec, Runner: designer.Inline})
	}
	m := NewManager(open, maxAge, idle, nil, WithNow(c.now))
	t.Cleanup(m.Close)
	return m, c, gw
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _, _ := newManager(t, time.Hour, 10*time.Minute)

	s, err := m.Create(context.Background(), "p1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "p1", s.ProjectID)
	assert.Len(t, s.Designer.Models(), 1)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_CreateFailures(t *testing.T) {
	m, _, gw := newManager(t, time.Hour, time.Hour)

	_, err := m.Create(context.Background(), "")
	assert.Error(t, err)

	gw.FailNext(gateway.OpListModels, errors.New("boom"))
	_, err = m.Create(context.Background(), "p1")
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestManager_IdleExpiry(t *testing.T) {
	m, c, _ := newManager(t, time.Hour, 10*time.Minute)
	s, err := m.Create(context.Background(), "p1")
	require.NoError(t, err)

	c.advance(9 * time.Minute)
	_, err = m.Get(s.ID)
	require.NoError(t, err)

	// Get touched the session, so the idle clock restarted.
	c.advance(9 * time.Minute)
	_, err = m.Get(s.ID)
	require.NoError(t, err)

	c.advance(11 * time.Minute)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestManager_Cleanup(t *testing.T) {
	m, c, _ := newManager(t, 30*time.Minute, 0)
	old, err := m.Create(context.Background(), "p1")
	require.NoError(t, err)

	c.advance(20 * time.Minute)
	fresh, err := m.Create(context.Background(), "p1")
	require.NoError(t, err)

	c.advance(15 * time.Minute)
	assert.Equal(t, 1, m.Cleanup())

	_, err = m.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, m.Cleanup())
}

func TestManager_CleanupClosesExpiredSession(t *testing.T) {
	m, c, gw := newManager(t, time.Hour, 10*time.Minute)
	s, err := m.Create(context.Background(), "p1")
	require.NoError(t, err)

	select {
	case <-s.Done():
		t.Fatal("live session reported done")
	default:
	}

	c.advance(11 * time.Minute)
	require.Equal(t, 1, m.Cleanup())

	select {
	case <-s.Done():
	default:
		t.Fatal("expired session not marked done")
	}
	_, err = s.Designer.RenameModel("1", "Account")
	assert.ErrorIs(t, err, designer.ErrClosed)
	assert.Empty(t, gw.CallsFor(gateway.OpUpdateModel))
	assert.Equal(t, "User", gw.Models("p1")[0].Name)
}

func TestManager_StartCleanup(t *testing.T) {
	m, _, _ := newManager(t, time.Hour, time.Hour)
	assert.Error(t, m.StartCleanup("not a schedule"))
	require.NoError(t, m.StartCleanup("@every 1h"))
}

func TestManager_Remove(t *testing.T) {
	m, _, _ := newManager(t, time.Hour, time.Hour)
	s, err := m.Create(context.Background(), "p1")
	require.NoError(t, err)

	assert.True(t, m.Remove(s.ID))
	assert.False(t, m.Remove(s.ID))
	<-s.Done()
	assert.ErrorIs(t, s.Designer.OpenPicker(), designer.ErrClosed)
}
