package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_CoalescesToFinalValue(t *testing.T) {
	clock := NewFakeClock()
	d := New(500*time.Millisecond, WithClock(clock))

	var calls []string
	for _, name := range []string{"e", "em", "email"} {
		v := name
		d.Trigger("field:1", func() { calls = append(calls, v) })
		clock.Advance(200 * time.Millisecond)
	}
	assert.Empty(t, calls, "window restarts on every edit")

	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, []string{"email"}, calls)
	assert.False(t, d.Pending("field:1"))
}

func TestTrigger_KeysIndependent(t *testing.T) {
	clock := NewFakeClock()
	d := New(time.Second, WithClock(clock))

	var a, b int
	d.Trigger("a", func() { a++ })
	clock.Advance(600 * time.Millisecond)
	d.Trigger("b", func() { b++ })
	clock.Advance(400 * time.Millisecond)

	assert.Equal(t, 1, a)
	assert.Equal(t, 0, b)
	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, 1, b)
}

func TestCancel(t *testing.T) {
	clock := NewFakeClock()
	d := New(0, WithClock(clock))
	assert.Equal(t, DefaultWindow, d.Window())

	ran := false
	d.Trigger("k", func() { ran = true })
	assert.True(t, d.Cancel("k"))
	assert.False(t, d.Cancel("k"))
	clock.Advance(time.Hour)
	assert.False(t, ran)
}

func TestClose_DropsWithoutFlushing(t *testing.T) {
	clock := NewFakeClock()
	d := New(time.Second, WithClock(clock))

	var ran int
	d.Trigger("a", func() { ran++ })
	d.Trigger("b", func() { ran++ })
	assert.Equal(t, 2, d.Close())

	d.Trigger("c", func() { ran++ })
	clock.Advance(time.Hour)
	assert.Zero(t, ran)
	assert.Zero(t, clock.Scheduled())
}

func TestFlush(t *testing.T) {
	clock := NewFakeClock()
	d := New(time.Second, WithClock(clock))

	ran := 0
	d.Trigger("k", func() { ran++ })
	require.True(t, d.Flush("k"))
	assert.Equal(t, 1, ran)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, ran)
	assert.False(t, d.Flush("k"))
}

func TestRealClock(t *testing.T) {
	d := New(10 * time.Millisecond)
	var n atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		d.Trigger("k", func() {
			n.Add(1)
			close(done)
		})
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never ran")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}
