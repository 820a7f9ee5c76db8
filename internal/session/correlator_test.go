package session

import (
	"testing"
	"time"

	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)} }
func writeKey(id, char string) OpKey         { return OpKey{DeviceID: id, CharUUID: char, Kind: OpWrite} }
func subscribeKey(id, char string) OpKey     { return OpKey{DeviceID: id, CharUUID: char, Kind: OpSubscribe} }

func TestCorrelator_RegisterAndResolve(t *testing.T) {
	clock := newFakeClock()
	c := NewCorrelator(10*time.Second, clock.Now)

	op, err := c.Register(writeKey("dev-1", "2a19"), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, clock.now, op.SubmittedAt)
	assert.Equal(t, clock.now.Add(10*time.Second), op.Deadline)
	assert.True(t, c.IsPending(writeKey("dev-1", "2a19")))

	clock.Advance(250 * time.Millisecond)
	resolved, ok := c.Resolve(writeKey("dev-1", "2a19"))
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, resolved.Payload)
	assert.Equal(t, 250*time.Millisecond, resolved.Age(clock.now))

	_, ok = c.Resolve(writeKey("dev-1", "2a19"))
	assert.False(t, ok, "an operation MUST resolve at most once")
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_RejectsDuplicateKey(t *testing.T) {
	c := NewCorrelator(time.Second, nil)

	_, err := c.Register(writeKey("dev-1", "2a19"), nil)
	require.NoError(t, err)

	_, err = c.Register(writeKey("dev-1", "2a19"), nil)
	assert.ErrorIs(t, err, device.ErrOperationInProgress)

	// different kind or characteristic is a different key
	_, err = c.Register(subscribeKey("dev-1", "2a19"), nil)
	assert.NoError(t, err)
	_, err = c.Register(writeKey("dev-1", "2a37"), nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, c.Len())
}

func TestCorrelator_Expire(t *testing.T) {
	clock := newFakeClock()
	c := NewCorrelator(5*time.Second, clock.Now)

	_, _ = c.Register(writeKey("dev-1", "aaaa"), nil)
	clock.Advance(2 * time.Second)
	_, _ = c.Register(writeKey("dev-1", "bbbb"), nil)

	clock.Advance(2 * time.Second)
	assert.Empty(t, c.Expire(), "nothing has reached its deadline yet")

	clock.Advance(1 * time.Second)
	expired := c.Expire()
	require.Len(t, expired, 1, "deadline reached exactly MUST expire")
	assert.Equal(t, "aaaa", expired[0].Key.CharUUID)

	clock.Advance(10 * time.Second)
	expired = c.Expire()
	require.Len(t, expired, 1)
	assert.Equal(t, "bbbb", expired[0].Key.CharUUID)
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_CancelDevice(t *testing.T) {
	clock := newFakeClock()
	c := NewCorrelator(time.Minute, clock.Now)

	_, _ = c.Register(subscribeKey("dev-1", "2a37"), nil)
	clock.Advance(time.Millisecond)
	_, _ = c.Register(writeKey("dev-1", "2a19"), nil)
	clock.Advance(time.Millisecond)
	_, _ = c.Register(writeKey("dev-2", "2a19"), nil)

	cancelled := c.CancelDevice("dev-1")
	require.Len(t, cancelled, 2)
	assert.Equal(t, OpSubscribe, cancelled[0].Key.Kind, "oldest first")
	assert.Equal(t, OpWrite, cancelled[1].Key.Kind)

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.IsPending(writeKey("dev-2", "2a19")))
	assert.Empty(t, c.CancelDevice("dev-1"))
}

func TestCorrelator_SnapshotAndCancelAll(t *testing.T) {
	clock := newFakeClock()
	c := NewCorrelator(time.Minute, clock.Now)

	_, _ = c.Register(writeKey("dev-2", "2a19"), nil)
	_, _ = c.Register(writeKey("dev-1", "2a19"), nil)
	clock.Advance(time.Second)
	_, _ = c.Register(writeKey("dev-0", "2a19"), nil)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	// equal submission times are ordered by key
	assert.Equal(t, "dev-1", snap[0].Key.DeviceID)
	assert.Equal(t, "dev-2", snap[1].Key.DeviceID)
	assert.Equal(t, "dev-0", snap[2].Key.DeviceID)

	snap[0].Key.DeviceID = "mutated"
	assert.True(t, c.IsPending(writeKey("dev-1", "2a19")), "snapshot MUST be a copy")

	assert.Len(t, c.CancelAll(), 3)
	assert.Equal(t, 0, c.Len())
}
