package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives published events. Handlers run on the session's serial queue and
// must not block indefinitely.
type Handler func(Event)

// Handle adapts a typed callback to a Handler; events of other types are ignored.
func Handle[T Event](fn func(T)) Handler {
	return func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	}
}

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher fans events out to an explicit subscriber list per category.
// Delivery is synchronous and in subscription order; category subscribers run before
// catch-all subscribers.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[Category][]subscription
	all    []subscription
	nextID uint64
	logger *logrus.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		subs:   make(map[Category][]subscription),
		logger: logger,
	}
}

// Subscribe registers h for one category and returns a function removing it
func (d *Dispatcher) Subscribe(c Category, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs[c] = append(d.subs[c], subscription{id: id, handler: h})
	return func() { d.remove(c, id) }
}

// SubscribeAll registers h for every category
func (d *Dispatcher) SubscribeAll(h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.all = append(d.all, subscription{id: id, handler: h})
	return func() { d.remove(0, id) }
}

func (d *Dispatcher) remove(c Category, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.all
	if c != 0 {
		list = d.subs[c]
	}
	for i, s := range list {
		if s.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if c != 0 {
		d.subs[c] = list
	} else {
		d.all = list
	}
}

// Publish delivers ev to every subscriber of its category, then to catch-all subscribers.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	targets := make([]subscription, 0, len(d.subs[ev.Category()])+len(d.all))
	targets = append(targets, d.subs[ev.Category()]...)
	targets = append(targets, d.all...)
	d.mu.RUnlock()

	for _, s := range targets {
		d.invoke(s, ev)
	}
}

// SubscriberCount returns the number of handlers that would receive an event of category c
func (d *Dispatcher) SubscriberCount(c Category) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[c]) + len(d.all)
}

// invoke runs one handler; a panicking handler is logged and does not stop delivery.
func (d *Dispatcher) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"category": ev.Category().String(),
				"device":   ev.DeviceID(),
				"panic":    fmt.Sprint(r),
			}).Error("Event handler panicked")
		}
	}()
	s.handler(ev)
}
