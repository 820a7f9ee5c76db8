package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// OpKind identifies the kind of a correlated GATT request
type OpKind int

const (
	OpWrite OpKind = iota + 1
	OpSubscribe
	OpUnsubscribe
)

func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "write"
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// OpKey identifies an in-flight request. At most one operation exists per key.
type OpKey struct {
	DeviceID string
	CharUUID string
	Kind     OpKind
}

func (k OpKey) String() string {
	return fmt.Sprintf("%s %s/%s", k.Kind, k.DeviceID, k.CharUUID)
}

// PendingOperation is an outbound request waiting for its native response
type PendingOperation struct {
	Key         OpKey
	Payload     []byte
	SubmittedAt time.Time
	Deadline    time.Time
}

// Age reports how long the operation has been pending at now
func (p PendingOperation) Age(now time.Time) time.Duration {
	return now.Sub(p.SubmittedAt)
}

// Correlator tracks pending GATT operations. It is not safe for concurrent use; the
// session drives it exclusively from its serial queue.
type Correlator struct {
	pending map[OpKey]*PendingOperation
	timeout time.Duration
	now     func() time.Time
}

// NewCorrelator creates a correlator evicting operations older than timeout
func NewCorrelator(timeout time.Duration, now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		pending: make(map[OpKey]*PendingOperation),
		timeout: timeout,
		now:     now,
	}
}

// Register records a new operation, refusing a second one for the same key.
func (c *Correlator) Register(key OpKey, payload []byte) (*PendingOperation, error) {
	if existing, ok := c.pending[key]; ok {
		return nil, device.NewError(device.KindOperationInProgress,
			"%s already pending for %s", key, c.now().Sub(existing.SubmittedAt).Round(time.Millisecond))
	}
	now := c.now()
	op := &PendingOperation{
		Key:         key,
		Payload:     payload,
		SubmittedAt: now,
		Deadline:    now.Add(c.timeout),
	}
	c.pending[key] = op
	return op, nil
}

// Resolve removes and returns the operation for key, if one is pending
func (c *Correlator) Resolve(key OpKey) (*PendingOperation, bool) {
	op, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return op, ok
}

// IsPending reports whether an operation is in flight for key
func (c *Correlator) IsPending(key OpKey) bool {
	_, ok := c.pending[key]
	return ok
}

// CancelDevice removes every operation targeting deviceID, oldest first
func (c *Correlator) CancelDevice(deviceID string) []*PendingOperation {
	return c.evict(func(op *PendingOperation) bool { return op.Key.DeviceID == deviceID })
}

// Expire removes every operation whose deadline has passed, oldest first
func (c *Correlator) Expire() []*PendingOperation {
	now := c.now()
	return c.evict(func(op *PendingOperation) bool { return !now.Before(op.Deadline) })
}

// CancelAll removes every operation, oldest first
func (c *Correlator) CancelAll() []*PendingOperation {
	return c.evict(func(*PendingOperation) bool { return true })
}

// Snapshot returns copies of all pending operations, oldest first
func (c *Correlator) Snapshot() []PendingOperation {
	out := make([]PendingOperation, 0, len(c.pending))
	for _, op := range c.pending {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

// Len returns the number of pending operations
func (c *Correlator) Len() int {
	return len(c.pending)
}

func (c *Correlator) evict(match func(*PendingOperation) bool) []*PendingOperation {
	var out []*PendingOperation
	for key, op := range c.pending {
		if match(op) {
			out = append(out, op)
			delete(c.pending, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// less orders by submission time, then key, so eviction reports are deterministic
func less(a, b *PendingOperation) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.Key.String() < b.Key.String()
}
