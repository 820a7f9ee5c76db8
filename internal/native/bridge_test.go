package native_test

import (
	"sync"
	"testing"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type collectingSink struct {
	mu     sync.Mutex
	events []native.Event
}

func (s *collectingSink) Deliver(ev native.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectingSink) all() []native.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]native.Event(nil), s.events...)
}

type BridgeTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	sink   *collectingSink
	bridge *native.Bridge
}

func (s *BridgeTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.sink = &collectingSink{}
	s.bridge = native.NewBridge(s.sink, s.helper.Logger)
}

func (s *BridgeTestSuite) TestDecodesEveryCallback() {
	calls := []struct {
		method  string
		payload string
		check   func(ev native.Event)
	}{
		{"bluetooth-state-changed", "1", func(ev native.Event) { s.True(ev.Enabled) }},
		{"permission-result", "0", func(ev native.Event) { s.False(ev.Enabled) }},
		{"device-discovered", `{"deviceId":"dev-1","name":"Smart Watch","rssi":-62}`, func(ev native.Event) {
			s.Require().NotNil(ev.Device)
			s.Equal(-62, ev.Device.RSSI)
		}},
		{"device-connected", "dev-1", func(ev native.Event) { s.Equal("dev-1", ev.DeviceID) }},
		{"device-disconnected", "dev-1", func(ev native.Event) { s.Equal("dev-1", ev.DeviceID) }},
		{"connection-failed", "dev-1|Connection timed out", func(ev native.Event) { s.Equal("Connection timed out", ev.Message) }},
		{"characteristic-value", `{"deviceId":"dev-1","characteristicUUID":"2a19","data":"64"}`, func(ev native.Event) { s.Equal("64", ev.Payload) }},
		{"write-success", `{"deviceId":"dev-1","characteristicUUID":"2a19"}`, func(ev native.Event) { s.Equal("2a19", ev.CharUUID) }},
		{"write-error", `{"deviceId":"dev-1","characteristicUUID":"2a19","error":"busy"}`, func(ev native.Event) { s.Equal("busy", ev.Message) }},
		{"notification-state-changed", `{"deviceId":"dev-1","characteristicUUID":"2a19","isNotifying":true}`, func(ev native.Event) { s.True(ev.Enabled) }},
	}

	for _, c := range calls {
		s.Require().NoError(s.bridge.Receive(c.method, c.payload), c.method)
	}

	events := s.sink.all()
	s.Require().Len(events, len(calls))
	for i, c := range calls {
		s.Equal(c.method, events[i].Kind.String())
		s.NoError(events[i].Err)
		c.check(events[i])
	}
}

func (s *BridgeTestSuite) TestMalformedPayloadIsDroppedWithoutIdentity() {
	err := s.bridge.Receive("device-discovered", `{"name": "no id"}`)
	s.ErrorIs(err, device.ErrDecode)

	err = s.bridge.Receive("bluetooth-state-changed", "yes")
	s.ErrorIs(err, device.ErrDecode)

	err = s.bridge.Receive("device-connected", "")
	s.ErrorIs(err, device.ErrDecode)

	s.Empty(s.sink.all(), "undecodable events without a device MUST NOT be forwarded")
	s.Contains(s.helper.Logs.String(), "Malformed native payload")
}

func (s *BridgeTestSuite) TestMalformedValueForwardsBestEffortRecord() {
	err := s.bridge.Receive("characteristic-value", `{"deviceId":"dev-1","characteristicUUID":"2a19","data":[1,2]}`)
	s.ErrorIs(err, device.ErrDecode)

	events := s.sink.all()
	s.Require().Len(events, 1)
	s.Equal(native.CharacteristicValue, events[0].Kind)
	s.Equal("dev-1", events[0].DeviceID)
	s.ErrorIs(events[0].Err, device.ErrDecode)
	s.Empty(events[0].Payload)
}

func (s *BridgeTestSuite) TestUnknownMethod() {
	err := s.bridge.Receive("OnSomethingElse", "1")
	s.ErrorIs(err, device.ErrDecode)
	s.Empty(s.sink.all())

	// the bridge keeps working after a bad callback
	s.NoError(s.bridge.Receive("device-connected", "dev-2"))
	s.Len(s.sink.all(), 1)
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func TestEncodeRoundTrip(t *testing.T) {
	rec := &device.Record{ID: "dev-1", Name: "Temperature Sensor", RSSI: -38, Connectable: true, LocalName: "TempSense v2", TxPowerLevel: -4}
	events := []native.Event{
		native.StateChanged(true),
		native.Discovered(rec),
		native.Connected("dev-1"),
		native.Failed("dev-1", "refused"),
		native.Value("dev-1", "2a19", "57"),
		native.Written("dev-1", "2a19"),
		native.WriteFailed("dev-1", "2a19", "busy"),
		native.NotifyState("dev-1", "2a19", true, ""),
	}

	sink := &collectingSink{}
	bridge := native.NewBridge(sink, nil)
	for _, ev := range events {
		method, payload, err := native.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, bridge.Receive(method, payload))
	}

	got := sink.all()
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i].Kind, got[i].Kind)
		assert.Equal(t, events[i].DeviceID, got[i].DeviceID)
		assert.Equal(t, events[i].CharUUID, got[i].CharUUID)
		assert.Equal(t, events[i].Message, got[i].Message)
		assert.Equal(t, events[i].Payload, got[i].Payload)
		assert.Equal(t, events[i].Enabled, got[i].Enabled)
	}
	assert.Equal(t, "TempSense v2", got[1].Device.LocalName)
	assert.Equal(t, -4, got[1].Device.TxPowerLevel)
}
