// Package emitter provides a small ordered multi-listener event bus used by
// the signaling channel.
package emitter

import "sync"

// Listener receives one dispatched event value.
type Listener func(value any)

type entry struct {
	id int
	fn Listener
}

// Emitter fans events out to listeners registered per event name.
//
// Dispatch snapshots the listener set: a listener that unsubscribes itself
// mid-dispatch does not skip a successor, and a listener added mid-dispatch
// is not invoked for the current event. Listeners run in registration order.
type Emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string][]entry
}

// New creates an empty emitter.
func New() *Emitter {
	return &Emitter{listeners: make(map[string][]entry)}
}

// On registers a listener for an event and returns its unsubscribe func.
// Unsubscribing twice is a no-op.
func (e *Emitter) On(event string, fn Listener) (off func()) {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], entry{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		bucket := e.listeners[event]
		for i, ent := range bucket {
			if ent.id == id {
				bucket = append(bucket[:i:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = bucket
		}
	}
}

// Once registers a listener that removes itself after its first dispatch.
func (e *Emitter) Once(event string, fn Listener) (off func()) {
	var offOnce func()
	var once sync.Once
	offOnce = e.On(event, func(value any) {
		once.Do(func() {
			offOnce()
			fn(value)
		})
	})
	return offOnce
}

// Emit dispatches value to every listener currently registered for event.
func (e *Emitter) Emit(event string, value any) {
	e.mu.Lock()
	bucket := e.listeners[event]
	snapshot := make([]entry, len(bucket))
	copy(snapshot, bucket)
	e.mu.Unlock()

	for _, ent := range snapshot {
		ent.fn(value)
	}
}

// ListenerCount reports the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Clear removes every listener. Used on channel shutdown.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]entry)
}
