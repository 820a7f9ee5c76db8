package session

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is discarded.
// The session uses it to hand events to consumers that must not stall the serial
// queue, such as a UI redrawing a device list.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Int64
	written atomic.Int64
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Consumers can range over this until it's closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend always succeeds immediately, discarding the oldest if needed.
// It reports whether an element was discarded. Only one goroutine may send.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	dropped := false

	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.dropped.Add(1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	rc.written.Add(1)

	return dropped
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Dropped returns how many elements were overwritten before being read
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}

// Written returns how many elements were sent in total
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}

// close closes the underlying channel; only the session owning the sender calls it.
func (rc *RingChannel[T]) close() {
	close(rc.ch)
}
