// Package event provides canvas events and their fan-out to the live
// session and to the in-process event bus.
package event

import (
	"context"
	"sync"
)

// Recorder accepts canvas events from the designer.
type Recorder interface {
	Record(ctx context.Context, evt CanvasEvent)
}

// Publisher sends events to asynchronous consumers.
type Publisher interface {
	Publish(ctx context.Context, evt CanvasEvent)
}

// Notifier receives events synchronously, in order.
type Notifier func(evt CanvasEvent)

// Fanout implements Recorder by calling the attached notifiers in emission
// order, then publishing to the event bus when one is set.
type Fanout struct {
	mu        sync.RWMutex
	notifiers map[int]Notifier
	nextID    int
	bus       Publisher
}

// NewFanout creates a Fanout with no sinks.
func NewFanout() *Fanout {
	return &Fanout{notifiers: make(map[int]Notifier)}
}

// SetPublisher attaches an event bus.
func (f *Fanout) SetPublisher(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bus = p
}

// Attach adds a synchronous notifier and returns its detach function.
func (f *Fanout) Attach(n Notifier) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.notifiers[id] = n
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.notifiers, id)
	}
}

// Record delivers evt to every notifier, then to the bus.
func (f *Fanout) Record(ctx context.Context, evt CanvasEvent) {
	f.mu.RLock()
	ns := make([]Notifier, 0, len(f.notifiers))
	for id := 0; id < f.nextID; id++ {
		if n, ok := f.notifiers[id]; ok {
			ns = append(ns, n)
		}
	}
	bus := f.bus
	f.mu.RUnlock()

	for _, n := range ns {
		n(evt)
	}
	if bus != nil {
		bus.Publish(ctx, evt)
	}
}
