package testutils

import (
	"sync"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/native"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a testify mock of native.Adapter.
//
// Commands are permissive by default: unless a test sets an explicit expectation
// with On, every command is recorded and succeeds. Emit pushes inbound events into
// the sink bound by the session under test.
type MockAdapter struct {
	mock.Mock

	mu     sync.Mutex
	sink   native.Sink
	strict bool
	calls  []RecordedCall
}

// RecordedCall is one command received by the mock
type RecordedCall struct {
	Method string
	Args   []interface{}
}

// NewMockAdapter creates a permissive adapter mock
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// Strict makes every call require an explicit expectation
func (m *MockAdapter) Strict() *MockAdapter {
	m.strict = true
	return m
}

// Emit delivers ev to the bound sink as if the platform stack had called back
func (m *MockAdapter) Emit(ev native.Event) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Deliver(ev)
	}
}

// Bound reports whether a sink has been registered
func (m *MockAdapter) Bound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink != nil
}

func (m *MockAdapter) Bind(sink native.Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// command records the call and returns the configured error, or nil when no
// expectation was set on a permissive mock.
func (m *MockAdapter) command(method string, args ...interface{}) error {
	m.mu.Lock()
	m.calls = append(m.calls, RecordedCall{Method: method, Args: args})
	m.mu.Unlock()

	if !m.strict && !m.hasExpectation(method) {
		return nil
	}
	return m.MethodCalled(method, args...).Error(0)
}

// CallsTo returns the arguments of every recorded call to method, oldest first
func (m *MockAdapter) CallsTo(method string) [][]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]interface{}
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c.Args)
		}
	}
	return out
}

// CallCount returns how many times method was called
func (m *MockAdapter) CallCount(method string) int {
	return len(m.CallsTo(method))
}

func (m *MockAdapter) hasExpectation(method string) bool {
	for _, c := range m.ExpectedCalls {
		if c.Method == method {
			return true
		}
	}
	return false
}

func (m *MockAdapter) Initialize() error         { return m.command("Initialize") }
func (m *MockAdapter) RequestPermissions() error { return m.command("RequestPermissions") }
func (m *MockAdapter) StartScan() error          { return m.command("StartScan") }
func (m *MockAdapter) StopScan() error           { return m.command("StopScan") }
func (m *MockAdapter) Connect(id string) error   { return m.command("Connect", id) }
func (m *MockAdapter) Disconnect(id string) error {
	return m.command("Disconnect", id)
}

func (m *MockAdapter) WriteCharacteristic(id, charUUID, hexPayload string, withResponse bool) error {
	return m.command("WriteCharacteristic", id, charUUID, hexPayload, withResponse)
}

func (m *MockAdapter) Subscribe(id, charUUID string) error {
	return m.command("Subscribe", id, charUUID)
}

func (m *MockAdapter) Unsubscribe(id, charUUID string) error {
	return m.command("Unsubscribe", id, charUUID)
}

func (m *MockAdapter) IsBluetoothEnabled() bool {
	if !m.strict && !m.hasExpectation("IsBluetoothEnabled") {
		return true
	}
	return m.MethodCalled("IsBluetoothEnabled").Bool(0)
}

func (m *MockAdapter) IsDeviceConnected(id string) bool {
	if !m.strict && !m.hasExpectation("IsDeviceConnected") {
		return false
	}
	return m.MethodCalled("IsDeviceConnected", id).Bool(0)
}

func (m *MockAdapter) DiscoveredDeviceCount() int {
	if !m.strict && !m.hasExpectation("DiscoveredDeviceCount") {
		return 0
	}
	return m.MethodCalled("DiscoveredDeviceCount").Int(0)
}

func (m *MockAdapter) DiscoveredDeviceAt(index int) (*device.Record, bool) {
	if !m.strict && !m.hasExpectation("DiscoveredDeviceAt") {
		return nil, false
	}
	args := m.MethodCalled("DiscoveredDeviceAt", index)
	rec, _ := args.Get(0).(*device.Record)
	return rec, args.Bool(1)
}

func (m *MockAdapter) DeviceCharacteristics(id string) ([]device.Characteristic, error) {
	if !m.strict && !m.hasExpectation("DeviceCharacteristics") {
		return []device.Characteristic{}, nil
	}
	args := m.MethodCalled("DeviceCharacteristics", id)
	chars, _ := args.Get(0).([]device.Characteristic)
	return chars, args.Error(1)
}

func (m *MockAdapter) DeviceServices(id string) ([]device.Service, error) {
	if !m.strict && !m.hasExpectation("DeviceServices") {
		return []device.Service{}, nil
	}
	args := m.MethodCalled("DeviceServices", id)
	svcs, _ := args.Get(0).([]device.Service)
	return svcs, args.Error(1)
}

func (m *MockAdapter) ServiceCharacteristics(id, serviceUUID string) ([]device.Characteristic, error) {
	if !m.strict && !m.hasExpectation("ServiceCharacteristics") {
		return []device.Characteristic{}, nil
	}
	args := m.MethodCalled("ServiceCharacteristics", id, serviceUUID)
	chars, _ := args.Get(0).([]device.Characteristic)
	return chars, args.Error(1)
}

func (m *MockAdapter) Close() error { return m.command("Close") }
