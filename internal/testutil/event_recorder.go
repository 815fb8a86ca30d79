package testutil

import (
	"sync"

	"github.com/spartacus-desktop/spartacus/core"
)

// EventRecorder collects run events. Its Sink is safe for concurrent use.
type EventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

// NewEventRecorder returns an empty recorder.
func NewEventRecorder() *EventRecorder { return &EventRecorder{} }

// Sink returns an event sink appending to the recorder.
func (r *EventRecorder) Sink() core.EventSink {
	return func(ev core.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *EventRecorder) Types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Last returns the most recent event and whether any was recorded.
func (r *EventRecorder) Last() (core.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return core.Event{}, false
	}
	return r.events[len(r.events)-1], true
}
