package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/internal/session"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ManagerTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	adapter  *testutils.MockAdapter
	manager  *session.Manager
	recorder *testutils.EventRecorder
	ctx      context.Context
}

func (s *ManagerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.helper = testutils.NewTestHelper(s.T())
	s.adapter = testutils.NewMockAdapter()
	s.manager = s.newManager(session.Options{OperationTimeout: 5 * time.Second})
	s.recorder = testutils.NewEventRecorder(s.manager)
	s.Require().NoError(s.manager.Start(s.ctx))
}

func (s *ManagerTestSuite) TearDownTest() {
	s.NoError(s.manager.Close())
}

func (s *ManagerTestSuite) newManager(opts session.Options) *session.Manager {
	opts.Logger = s.helper.Logger
	return session.New(s.adapter, opts)
}

// flush waits until every event delivered so far has been processed
func (s *ManagerTestSuite) flush() {
	_, err := s.manager.Pending(s.ctx)
	s.Require().NoError(err)
}

func (s *ManagerTestSuite) emit(ev native.Event) {
	s.adapter.Emit(ev)
	s.flush()
}

func (s *ManagerTestSuite) connect(id string) {
	s.Require().NoError(s.manager.Connect(s.ctx, id))
	s.emit(native.Connected(id))
	s.Require().Equal(session.Connected, s.manager.State(id))
}

func (s *ManagerTestSuite) discover(id, name string, rssi int) {
	s.emit(native.Discovered(&device.Record{ID: id, Name: name, RSSI: rssi, Connectable: true}))
}

func (s *ManagerTestSuite) TestStart_BindsAndInitializesAdapter() {
	s.True(s.adapter.Bound())
	s.Equal(1, s.adapter.CallCount("Initialize"))
	s.ErrorIs(s.manager.Start(s.ctx), device.ErrInvalidRequest, "second start MUST be rejected")
}

func (s *ManagerTestSuite) TestStart_InitializeFailurePublishesDisabledState() {
	adapter := testutils.NewMockAdapter()
	adapter.On("Initialize").Return(errors.New("bluetooth unavailable"))
	m := session.New(adapter, session.Options{Logger: s.helper.Logger})
	rec := testutils.NewEventRecorder(m)

	s.Require().NoError(m.Start(s.ctx))
	defer m.Close()

	states := testutils.EventsOf[session.BluetoothStateEvent](rec)
	s.Require().Len(states, 1)
	s.False(states[0].Enabled)
	s.ErrorIs(states[0].Err, device.ErrAdapter)
}

func (s *ManagerTestSuite) TestDiscovery_RefreshKeepsOneRecord() {
	s.discover("dev-1", "Heart Rate Monitor", -60)
	s.discover("dev-1", "", -40)

	devices := s.manager.Devices()
	s.Require().Len(devices, 1)
	s.Equal(-40, devices[0].RSSI, "latest advertisement MUST win")
	s.Equal("Heart Rate Monitor", devices[0].Name)
	s.True(s.manager.IsDiscovered("dev-1"))

	events := testutils.EventsOf[session.DeviceDiscoveredEvent](s.recorder)
	s.Require().Len(events, 2)
	s.True(events[0].New)
	s.False(events[1].New)
}

func (s *ManagerTestSuite) TestDiscovery_DropsUndecodableAdvertisement() {
	ev := native.Discovered(&device.Record{ID: "dev-1"})
	ev.Err = device.NewError(device.KindDecode, "bad manufacturer data")
	s.emit(ev)

	s.False(s.manager.IsDiscovered("dev-1"))
	s.Zero(s.recorder.Count(session.CategoryDeviceDiscovered))
}

func (s *ManagerTestSuite) TestStartScan_ClearsRegistry() {
	s.discover("dev-1", "Old", -70)

	s.Require().NoError(s.manager.StartScan(s.ctx))
	s.Empty(s.manager.Devices())
	s.True(s.manager.Scanning())

	s.Require().NoError(s.manager.StopScan(s.ctx))
	s.False(s.manager.Scanning())

	scans := testutils.EventsOf[session.ScanStateEvent](s.recorder)
	s.Require().Len(scans, 2)
	s.True(scans[0].Scanning)
	s.False(scans[1].Scanning)
}

func (s *ManagerTestSuite) TestStartScan_AdapterFailure() {
	s.adapter.On("StartScan").Return(errors.New("scan refused"))

	s.Require().NoError(s.manager.StartScan(s.ctx))

	s.False(s.manager.Scanning())
	scans := testutils.EventsOf[session.ScanStateEvent](s.recorder)
	s.Require().Len(scans, 1)
	s.ErrorIs(scans[0].Err, device.ErrAdapter)
}

func (s *ManagerTestSuite) TestConnect_UnknownDeviceCreatesPlaceholder() {
	s.Require().NoError(s.manager.Connect(s.ctx, "AA:BB:CC:DD:EE:FF"))
	s.Equal(session.Connecting, s.manager.State("AA:BB:CC:DD:EE:FF"))

	rec, ok := s.manager.Device("AA:BB:CC:DD:EE:FF")
	s.Require().True(ok)
	s.Equal(device.UnknownName, rec.Name)
	s.True(rec.Placeholder)

	s.emit(native.Connected("AA:BB:CC:DD:EE:FF"))
	s.emit(native.Connected("AA:BB:CC:DD:EE:FF"))

	s.Equal(1, s.recorder.Count(session.CategoryConnected), "duplicate connected events MUST be dropped")
	s.Equal([]string{"disconnected->connecting", "connecting->connected"},
		testutils.Transitions(s.recorder, "AA:BB:CC:DD:EE:FF"))
	s.True(s.manager.IsDeviceConnected("AA:BB:CC:DD:EE:FF"))
	s.Equal([]string{"AA:BB:CC:DD:EE:FF"}, s.manager.ConnectedDevices())
	s.Equal(1, s.manager.ConnectedCount())
}

func (s *ManagerTestSuite) TestConnected_AdoptsAdapterDiscoveryList() {
	s.adapter.On("DiscoveredDeviceCount").Return(1)
	s.adapter.On("DiscoveredDeviceAt", 0).Return(&device.Record{ID: "dev-9", Name: "Thermometer"}, true)

	s.emit(native.Connected("dev-9"))

	connected := testutils.EventsOf[session.ConnectedEvent](s.recorder)
	s.Require().Len(connected, 1)
	s.Equal("Thermometer", connected[0].Device.Name)
	s.True(s.manager.IsDiscovered("dev-9"))
}

func (s *ManagerTestSuite) TestConnect_Validation() {
	s.ErrorIs(s.manager.Connect(s.ctx, ""), device.ErrInvalidRequest)

	s.Require().NoError(s.manager.Connect(s.ctx, "dev-1"))
	s.ErrorIs(s.manager.Connect(s.ctx, "dev-1"), device.ErrInvalidRequest, "connect while connecting")

	s.emit(native.Connected("dev-1"))
	s.NoError(s.manager.Connect(s.ctx, "dev-1"), "connect while connected is a no-op")
	s.Equal(1, s.adapter.CallCount("Connect"))

	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))
	s.ErrorIs(s.manager.Connect(s.ctx, "dev-1"), device.ErrInvalidRequest, "connect while disconnecting")
}

func (s *ManagerTestSuite) TestConnect_AdapterFailure() {
	s.adapter.On("Connect", "dev-1").Return(errors.New("radio busy"))

	s.Require().NoError(s.manager.Connect(s.ctx, "dev-1"))

	s.Equal(session.Disconnected, s.manager.State("dev-1"))
	failures := testutils.EventsOf[session.ConnectionFailedEvent](s.recorder)
	s.Require().Len(failures, 1)
	s.ErrorIs(failures[0].Err, device.ErrAdapter)
	s.Equal([]string{"disconnected->connecting", "connecting->failed", "failed->disconnected"},
		testutils.Transitions(s.recorder, "dev-1"))
}

func (s *ManagerTestSuite) TestConnectionFailed_NativeEvent() {
	s.Require().NoError(s.manager.Connect(s.ctx, "dev-1"))
	s.emit(native.Failed("dev-1", "Peer removed pairing information"))

	failures := testutils.EventsOf[session.ConnectionFailedEvent](s.recorder)
	s.Require().Len(failures, 1)
	s.Equal("Peer removed pairing information", failures[0].Reason)
	s.Equal("adapter_error: Peer removed pairing information", failures[0].Err.Error())
	s.Equal(session.Disconnected, s.manager.State("dev-1"))
}

func (s *ManagerTestSuite) TestConnectionFailed_ForDisconnectedDeviceIsDropped() {
	s.emit(native.Failed("dev-1", "late failure"))

	s.Zero(s.recorder.Count(session.CategoryConnectionFailed))
	s.Empty(testutils.Transitions(s.recorder, "dev-1"))
	s.Contains(s.helper.Logs.String(), "Connection failure for a disconnected device dropped")
}

func (s *ManagerTestSuite) TestDisconnectedWhileConnecting_IsFailure() {
	s.Require().NoError(s.manager.Connect(s.ctx, "dev-1"))
	s.emit(native.Disconnected("dev-1"))

	s.Equal(1, s.recorder.Count(session.CategoryConnectionFailed))
	s.Zero(s.recorder.Count(session.CategoryDisconnected))
	s.Equal(session.Disconnected, s.manager.State("dev-1"))
}

func (s *ManagerTestSuite) TestDisconnected_AfterClearCreatesPlaceholder() {
	s.discover("dev-1", "Heart Rate Monitor", -60)
	s.connect("dev-1")
	s.Require().NoError(s.manager.ClearDevices(s.ctx))
	s.Require().False(s.manager.IsDiscovered("dev-1"))

	s.emit(native.Disconnected("dev-1"))

	disconnects := testutils.EventsOf[session.DisconnectedEvent](s.recorder)
	s.Require().Len(disconnects, 1)
	s.Require().NotNil(disconnects[0].Device)
	s.Equal("dev-1", disconnects[0].Device.ID)
	s.Equal(device.UnknownName, disconnects[0].Device.Name)
	s.True(s.manager.IsDiscovered("dev-1"))
}

func (s *ManagerTestSuite) TestNativeEvents_UnknownDeviceCreatesPlaceholder() {
	s.emit(native.Value("dev-Z", "2a19", "56"))
	s.emit(native.Written("dev-Y", "2a06"))
	s.emit(native.NotifyState("dev-X", "2a37", true, ""))

	for _, id := range []string{"dev-Z", "dev-Y", "dev-X"} {
		rec, ok := s.manager.Device(id)
		s.Require().True(ok, id)
		s.True(rec.Placeholder, id)
		s.Equal(session.Disconnected, s.manager.State(id))
	}
	s.Equal(1, s.recorder.Count(session.CategoryCharacteristicValue))
}

func (s *ManagerTestSuite) TestConnectionLost() {
	s.connect("dev-1")
	s.emit(native.Disconnected("dev-1"))
	s.emit(native.Disconnected("dev-1"))

	disconnects := testutils.EventsOf[session.DisconnectedEvent](s.recorder)
	s.Require().Len(disconnects, 1, "duplicate disconnected events MUST be dropped")
	s.False(disconnects[0].Requested)
	s.Equal(session.Disconnected, s.manager.State("dev-1"))
}

func (s *ManagerTestSuite) TestDisconnect_Idempotent() {
	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))
	s.Zero(s.adapter.CallCount("Disconnect"))
	s.Empty(s.recorder.Events())

	s.connect("dev-1")
	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))
	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))
	s.Equal(1, s.adapter.CallCount("Disconnect"))
	s.Equal(session.Disconnecting, s.manager.State("dev-1"))

	s.emit(native.Disconnected("dev-1"))
	disconnects := testutils.EventsOf[session.DisconnectedEvent](s.recorder)
	s.Require().Len(disconnects, 1)
	s.True(disconnects[0].Requested)

	s.ErrorIs(s.manager.Disconnect(s.ctx, ""), device.ErrInvalidRequest)
}

func (s *ManagerTestSuite) TestDisconnect_AdapterFailureClosesLocally() {
	s.connect("dev-1")
	s.adapter.On("Disconnect", "dev-1").Return(errors.New("not connected"))

	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))

	s.Equal(session.Disconnected, s.manager.State("dev-1"))
	s.Equal(1, s.recorder.Count(session.CategoryDisconnected))
}

func (s *ManagerTestSuite) TestConnectedWhileDisconnecting_ReissuesDisconnect() {
	s.Require().NoError(s.manager.Connect(s.ctx, "dev-1"))
	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))
	s.emit(native.Connected("dev-1"))

	s.Equal(2, s.adapter.CallCount("Disconnect"))
	s.Equal(session.Disconnecting, s.manager.State("dev-1"))
	s.Zero(s.recorder.Count(session.CategoryConnected))
}

func (s *ManagerTestSuite) TestDisconnectAll() {
	s.connect("dev-2")
	s.connect("dev-1")
	s.Require().NoError(s.manager.Connect(s.ctx, "dev-3"))

	s.Require().NoError(s.manager.DisconnectAll(s.ctx))

	calls := s.adapter.CallsTo("Disconnect")
	s.Require().Len(calls, 3)
	s.Equal("dev-1", calls[0][0])
	s.Equal("dev-2", calls[1][0])
	s.Equal("dev-3", calls[2][0])
	s.Zero(s.manager.ConnectedCount())
}

func (s *ManagerTestSuite) TestWrite_RequiresConnection() {
	err := s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Zero(s.adapter.CallCount("WriteCharacteristic"))

	s.ErrorIs(s.manager.SubmitWrite(s.ctx, "", "2a19", []byte{0x01}, session.WithResponse), device.ErrInvalidRequest)
	s.ErrorIs(s.manager.SubmitWrite(s.ctx, "dev-1", "", []byte{0x01}, session.WithResponse), device.ErrInvalidRequest)

	s.connect("dev-1")
	s.ErrorIs(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", nil, session.WithResponse), device.ErrInvalidRequest)
}

func (s *ManagerTestSuite) TestWrite_WithResponseResolves() {
	s.connect("dev-1")

	s.Require().NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2A19", []byte{0x01, 0x02}, session.WithResponse))
	s.ErrorIs(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x03}, session.WithResponse),
		device.ErrOperationInProgress, "second write to the same characteristic MUST be rejected")

	calls := s.adapter.CallsTo("WriteCharacteristic")
	s.Require().Len(calls, 1)
	s.Equal([]interface{}{"dev-1", "2A19", "0102", true}, calls[0])

	pending, err := s.manager.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("2a19", pending[0].Key.CharUUID)

	s.emit(native.Written("dev-1", "00002a19-0000-1000-8000-00805f9b34fb"))

	writes := testutils.EventsOf[session.WriteSuccessEvent](s.recorder)
	s.Require().Len(writes, 1)
	s.False(writes[0].Unsolicited)
	s.Equal("2a19", writes[0].CharUUID)

	pending, _ = s.manager.Pending(s.ctx)
	s.Empty(pending)
}

func (s *ManagerTestSuite) TestWrite_WithoutResponseSucceedsImmediately() {
	s.connect("dev-1")

	s.Require().NoError(s.manager.WriteHex(s.ctx, "dev-1", "2a06", "01", session.WithoutResponse))
	s.Require().NoError(s.manager.WriteHex(s.ctx, "dev-1", "2a06", "02", session.WithoutResponse))

	s.Equal(2, s.recorder.Count(session.CategoryWriteSuccess))
	calls := s.adapter.CallsTo("WriteCharacteristic")
	s.Require().Len(calls, 2)
	s.Equal(false, calls[0][3])

	pending, _ := s.manager.Pending(s.ctx)
	s.Empty(pending)

	s.ErrorIs(s.manager.WriteHex(s.ctx, "dev-1", "2a06", "0", session.WithoutResponse), device.ErrInvalidRequest)
}

func (s *ManagerTestSuite) TestWrite_WithoutResponseRejectedWhileWritePending() {
	s.connect("dev-1")

	s.Require().NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse))
	s.ErrorIs(s.manager.SubmitWrite(s.ctx, "dev-1", "2A19", []byte{0x02}, session.WithoutResponse),
		device.ErrOperationInProgress)

	s.Len(s.adapter.CallsTo("WriteCharacteristic"), 1, "rejected write MUST NOT reach the adapter")
	s.Zero(s.recorder.Count(session.CategoryWriteSuccess))

	s.emit(native.Written("dev-1", "2a19"))
	s.NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x02}, session.WithoutResponse))
}

func (s *ManagerTestSuite) TestWrite_AdapterRejection() {
	s.connect("dev-1")
	s.adapter.On("WriteCharacteristic", "dev-1", "2a19", "ff", true).Return(errors.New("ATT error 0x03"))

	s.Require().NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0xff}, session.WithResponse))

	failures := testutils.EventsOf[session.WriteErrorEvent](s.recorder)
	s.Require().Len(failures, 1)
	s.ErrorIs(failures[0].Err, device.ErrAdapter)
	pending, _ := s.manager.Pending(s.ctx)
	s.Empty(pending, "rejected write MUST NOT stay pending")
}

func (s *ManagerTestSuite) TestWrite_NativeError() {
	s.connect("dev-1")
	s.Require().NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse))

	s.emit(native.WriteFailed("dev-1", "2a19", "Write not permitted"))

	failures := testutils.EventsOf[session.WriteErrorEvent](s.recorder)
	s.Require().Len(failures, 1)
	s.False(failures[0].Unsolicited)
	s.Equal("adapter_error: Write not permitted", failures[0].Err.Error())
}

func (s *ManagerTestSuite) TestWrite_UnsolicitedResponse() {
	s.connect("dev-1")
	s.emit(native.Written("dev-1", "2a19"))

	writes := testutils.EventsOf[session.WriteSuccessEvent](s.recorder)
	s.Require().Len(writes, 1)
	s.True(writes[0].Unsolicited)
	s.Contains(s.helper.Logs.String(), "Unsolicited write response")
}

func (s *ManagerTestSuite) TestDisconnect_CancelsPendingOperations() {
	s.connect("dev-1")
	s.Require().NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse))
	s.Require().NoError(s.manager.SubmitSubscribe(s.ctx, "dev-1", "2a37"))

	s.Require().NoError(s.manager.Disconnect(s.ctx, "dev-1"))

	failures := testutils.EventsOf[session.WriteErrorEvent](s.recorder)
	s.Require().Len(failures, 1)
	s.ErrorIs(failures[0].Err, device.ErrCancelled)

	subs := testutils.EventsOf[session.SubscriptionEvent](s.recorder)
	s.Require().Len(subs, 1)
	s.ErrorIs(subs[0].Err, device.ErrCancelled)

	pending, _ := s.manager.Pending(s.ctx)
	s.Empty(pending)

	// a response racing the disconnect is unsolicited
	s.emit(native.Written("dev-1", "2a19"))
	writes := testutils.EventsOf[session.WriteSuccessEvent](s.recorder)
	s.Require().Len(writes, 1)
	s.True(writes[0].Unsolicited)
}

func (s *ManagerTestSuite) TestConnectionLost_CancelsPendingOperations() {
	s.connect("dev-1")
	s.Require().NoError(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse))

	s.emit(native.Disconnected("dev-1"))

	failures := testutils.EventsOf[session.WriteErrorEvent](s.recorder)
	s.Require().Len(failures, 1)
	s.ErrorIs(failures[0].Err, device.ErrCancelled)
	s.ErrorIs(s.manager.SubmitWrite(s.ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse), device.ErrNotConnected)
}

func (s *ManagerTestSuite) TestSubscribe_ConfirmedByNotificationState() {
	s.connect("dev-1")
	s.adapter.On("DeviceCharacteristics", "dev-1").Return([]device.Characteristic{
		{ServiceUUID: "180D", UUID: "2A37", Capabilities: device.Capabilities(0).With(device.CapNotify)},
		{ServiceUUID: "180F", UUID: "2A19", Capabilities: device.Capabilities(0).With(device.CapRead)},
	}, nil).Once()

	s.Require().NoError(s.manager.SubmitSubscribe(s.ctx, "dev-1", "2a37"))
	s.ErrorIs(s.manager.SubmitSubscribe(s.ctx, "dev-1", "2a37"), device.ErrOperationInProgress)

	s.emit(native.NotifyState("dev-1", "2a37", true, ""))

	subs := testutils.EventsOf[session.SubscriptionEvent](s.recorder)
	s.Require().Len(subs, 1)
	s.True(subs[0].Subscribed)
	s.NoError(subs[0].Err)
	s.False(subs[0].Unsolicited)

	chars, err := s.manager.Characteristics(s.ctx, "dev-1")
	s.Require().NoError(err)
	s.Require().Len(chars, 2)
	s.Equal("2a37", chars[0].UUID)
	s.True(chars[0].Subscribed)
	s.False(chars[1].Subscribed)

	// cached for the connection; the mock would fail a second fetch
	_, err = s.manager.Characteristics(s.ctx, "dev-1")
	s.NoError(err)

	s.Require().NoError(s.manager.SubmitUnsubscribe(s.ctx, "dev-1", "2a37"))
	s.emit(native.NotifyState("dev-1", "2a37", false, ""))
	chars, _ = s.manager.Characteristics(s.ctx, "dev-1")
	s.False(chars[0].Subscribed)
}

func (s *ManagerTestSuite) TestSubscribe_ConfirmedByFirstValue() {
	s.connect("dev-1")
	s.Require().NoError(s.manager.SubmitSubscribe(s.ctx, "dev-1", "2a37"))

	s.emit(native.Value("dev-1", "2a37", "0048"))

	s.Equal([]session.Category{
		session.CategorySubscription,
		session.CategoryCharacteristicValue,
	}, s.recorder.Categories()[len(s.recorder.Categories())-2:])

	values := testutils.EventsOf[session.CharacteristicValueEvent](s.recorder)
	s.Require().Len(values, 1)
	s.Equal([]byte{0x00, 0x48}, values[0].Data)
}

func (s *ManagerTestSuite) TestSubscribe_Failure() {
	s.connect("dev-1")
	s.Require().NoError(s.manager.SubmitSubscribe(s.ctx, "dev-1", "2a37"))

	s.emit(native.NotifyState("dev-1", "2a37", false, "Insufficient authentication"))

	subs := testutils.EventsOf[session.SubscriptionEvent](s.recorder)
	s.Require().Len(subs, 1)
	s.False(subs[0].Subscribed)
	s.False(subs[0].Unsolicited)
	s.ErrorIs(subs[0].Err, device.ErrAdapter)

	s.ErrorIs(s.manager.SubmitSubscribe(s.ctx, "dev-2", "2a37"), device.ErrNotConnected)
}

func (s *ManagerTestSuite) TestValue_DecodeError() {
	s.connect("dev-1")
	s.emit(native.Value("dev-1", "2a19", "abc"))
	s.emit(native.Value("dev-1", "2a19", "zz"))

	values := testutils.EventsOf[session.CharacteristicValueEvent](s.recorder)
	s.Require().Len(values, 2, "undecodable values MUST still be published")
	for _, v := range values {
		s.Equal([]byte{}, v.Data)
		s.ErrorIs(v.Err, device.ErrDecode)
	}
	s.Contains(s.helper.Logs.String(), "Undecodable characteristic value")
}

func (s *ManagerTestSuite) TestQueries_RequireConnection() {
	_, err := s.manager.Characteristics(s.ctx, "dev-1")
	s.ErrorIs(err, device.ErrNotConnected)
	_, err = s.manager.Services(s.ctx, "dev-1")
	s.ErrorIs(err, device.ErrNotConnected)
	_, err = s.manager.ServiceCharacteristics(s.ctx, "dev-1", "180f")
	s.ErrorIs(err, device.ErrNotConnected)
	_, err = s.manager.ServiceCharacteristics(s.ctx, "dev-1", "")
	s.ErrorIs(err, device.ErrInvalidRequest)

	s.connect("dev-1")
	s.adapter.On("DeviceServices", "dev-1").Return([]device.Service{{UUID: "180F", CharacteristicCount: 1}}, nil)
	services, err := s.manager.Services(s.ctx, "dev-1")
	s.Require().NoError(err)
	s.Equal([]device.Service{{UUID: "180f", CharacteristicCount: 1}}, services)
}

func (s *ManagerTestSuite) TestHandlerMayIssueCommands() {
	s.manager.Subscribe(session.CategoryConnected, session.Handle(func(ev session.ConnectedEvent) {
		s.NoError(s.manager.SubmitWrite(context.Background(), ev.ID, "2a06", []byte{0x01}, session.WithResponse))
		s.Error(s.manager.Close(), "Close MUST be refused from a handler")
	}))

	s.connect("dev-1")

	pending, err := s.manager.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(session.OpWrite, pending[0].Key.Kind)
}

func (s *ManagerTestSuite) TestWatchDiscoveries() {
	rc, stop, err := s.manager.WatchDiscoveries(s.ctx, 2)
	s.Require().NoError(err)

	s.discover("dev-1", "One", -50)
	s.discover("dev-2", "Two", -50)
	s.discover("dev-3", "Three", -50)

	s.Equal(int64(1), rc.Dropped())
	first, ok := rc.TryReceive()
	s.Require().True(ok)
	s.Equal("dev-2", first.ID)

	stop()
	stop()
	s.flush()
	for range rc.C() {
	}
}

func (s *ManagerTestSuite) TestStatus() {
	s.discover("dev-1", "Heart Rate Monitor", -60)
	s.discover("dev-2", "Smart Thermometer", -70)
	s.connect("dev-1")

	testutils.NewTextAsserter(s.T()).Assert(s.manager.Status(), `
Bluetooth Enabled: true
Discovered Devices: 2
Connected Devices: 1
Connected devices:
  - Heart Rate Monitor (dev-1)
`)
}

func (s *ManagerTestSuite) TestRequestPermissions() {
	s.adapter.On("RequestPermissions").Return(errors.New("denied by policy"))
	s.Require().NoError(s.manager.RequestPermissions(s.ctx))

	s.emit(native.Permission(true))

	perms := testutils.EventsOf[session.PermissionEvent](s.recorder)
	s.Require().Len(perms, 2)
	s.Error(perms[0].Err)
	s.True(perms[1].Granted)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestManager_OperationTimeout(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	adapter := testutils.NewMockAdapter()
	m := session.New(adapter, session.Options{
		OperationTimeout: 50 * time.Millisecond,
		SweepInterval:    10 * time.Millisecond,
		Logger:           helper.Logger,
	})
	rec := testutils.NewEventRecorder(m)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	defer m.Close()

	adapter.Emit(native.Connected("dev-1"))
	require.NoError(t, m.SubmitWrite(ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse))

	assert.Eventually(t, func() bool {
		return len(testutils.EventsOf[session.WriteErrorEvent](rec)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failure := testutils.EventsOf[session.WriteErrorEvent](rec)[0]
	assert.ErrorIs(t, failure.Err, device.ErrTimeout)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManager_CloseCancelsPending(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	adapter := testutils.NewMockAdapter()
	m := session.New(adapter, session.Options{Logger: helper.Logger})
	rec := testutils.NewEventRecorder(m)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	adapter.Emit(native.Connected("dev-1"))
	require.NoError(t, m.SubmitSubscribe(ctx, "dev-1", "2a37"))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	subs := testutils.EventsOf[session.SubscriptionEvent](rec)
	require.Len(t, subs, 1)
	assert.ErrorIs(t, subs[0].Err, device.ErrCancelled)

	assert.ErrorIs(t, m.Connect(ctx, "dev-1"), session.ErrClosed, "commands after Close MUST fail")
	assert.Equal(t, 1, adapter.CallCount("Close"))

	// late callbacks are dropped
	assert.NotPanics(t, func() { adapter.Emit(native.Disconnected("dev-1")) })
}

func TestManager_WriteResubmitAfterResolution(t *testing.T) {
	tests := []struct {
		name    string
		resolve func(adapter *testutils.MockAdapter)
		event   session.Category
	}{
		{
			name:    "success",
			resolve: func(adapter *testutils.MockAdapter) { adapter.Emit(native.Written("dev-1", "2a19")) },
			event:   session.CategoryWriteSuccess,
		},
		{
			name:    "native error",
			resolve: func(adapter *testutils.MockAdapter) { adapter.Emit(native.WriteFailed("dev-1", "2a19", "Write not permitted")) },
			event:   session.CategoryWriteError,
		},
		{
			name:    "timeout",
			resolve: func(*testutils.MockAdapter) {},
			event:   session.CategoryWriteError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helper := testutils.NewTestHelper(t)
			adapter := testutils.NewMockAdapter()
			m := session.New(adapter, session.Options{
				OperationTimeout: 50 * time.Millisecond,
				SweepInterval:    10 * time.Millisecond,
				Logger:           helper.Logger,
			})
			rec := testutils.NewEventRecorder(m)
			ctx := context.Background()

			require.NoError(t, m.Start(ctx))
			defer m.Close()

			adapter.Emit(native.Connected("dev-1"))
			require.NoError(t, m.SubmitWrite(ctx, "dev-1", "2a19", []byte{0x01}, session.WithResponse))
			tt.resolve(adapter)

			require.Eventually(t, func() bool {
				return rec.Count(tt.event) == 1
			}, 2*time.Second, 10*time.Millisecond)

			assert.NoError(t, m.SubmitWrite(ctx, "dev-1", "2a19", []byte{0x02}, session.WithResponse),
				"a resolved write MUST free its characteristic")
			assert.Len(t, adapter.CallsTo("WriteCharacteristic"), 2)
		})
	}
}
