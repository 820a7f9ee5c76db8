package testutils

import (
	"sync"

	"github.com/srg/blecentral/internal/session"
)

// EventRecorder captures every event published by a session, in publication order.
type EventRecorder struct {
	mu     sync.Mutex
	events []session.Event
	stop   func()
}

// NewEventRecorder subscribes a recorder to every category of m
func NewEventRecorder(m *session.Manager) *EventRecorder {
	r := &EventRecorder{}
	r.stop = m.SubscribeAll(r.record)
	return r
}

func (r *EventRecorder) record(ev session.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *EventRecorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

// Categories returns the category of each recorded event
func (r *EventRecorder) Categories() []session.Category {
	var out []session.Category
	for _, ev := range r.Events() {
		out = append(out, ev.Category())
	}
	return out
}

// Count returns how many events of category c were recorded
func (r *EventRecorder) Count(c session.Category) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Category() == c {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded so far
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Stop unsubscribes the recorder
func (r *EventRecorder) Stop() {
	r.stop()
}

// EventsOf returns the recorded events of type T
func EventsOf[T session.Event](r *EventRecorder) []T {
	var out []T
	for _, ev := range r.Events() {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// Transitions returns the recorded state transitions of one device as "from->to" strings
func Transitions(r *EventRecorder, deviceID string) []string {
	var out []string
	for _, ev := range EventsOf[session.ConnectionStateEvent](r) {
		if ev.ID == deviceID {
			out = append(out, ev.From.String()+"->"+ev.To.String())
		}
	}
	return out
}
