// Package native defines the boundary between the session core and a platform BLE stack.
//
// An Adapter accepts fire-and-forget commands, answers synchronous queries and reports
// everything else through Events pushed into a Sink at arbitrary times and from arbitrary
// goroutines. Adapters that speak the serialized text protocol hand their payloads to a
// Bridge, which decodes them into Events.
package native

import (
	"github.com/srg/blecentral/internal/device"
)

// Sink receives inbound events. Deliver must be safe for concurrent use.
type Sink interface {
	Deliver(ev Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ev Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }

// Commands are fire-and-forget: a nil error only means the command was accepted.
// The outcome arrives later as an Event.
type Commands interface {
	Initialize() error
	RequestPermissions() error
	StartScan() error
	StopScan() error
	Connect(deviceID string) error
	Disconnect(deviceID string) error
	// WriteCharacteristic sends hexPayload (lower-case, no separators) to the characteristic.
	// Write-without-response requests are never acknowledged with a write event.
	WriteCharacteristic(deviceID, charUUID, hexPayload string, withResponse bool) error
	Subscribe(deviceID, charUUID string) error
	Unsubscribe(deviceID, charUUID string) error
}

// Queries answer synchronously from the adapter's own view of the stack
type Queries interface {
	IsBluetoothEnabled() bool
	IsDeviceConnected(deviceID string) bool
	DiscoveredDeviceCount() int
	DiscoveredDeviceAt(index int) (*device.Record, bool)
	DeviceCharacteristics(deviceID string) ([]device.Characteristic, error)
	DeviceServices(deviceID string) ([]device.Service, error)
	ServiceCharacteristics(deviceID, serviceUUID string) ([]device.Characteristic, error)
}

// Adapter is a platform BLE stack as seen by the session core
type Adapter interface {
	Commands
	Queries

	// Bind registers the sink for inbound events. It is called once, before Initialize.
	Bind(sink Sink)

	// Close releases the stack. No events are delivered after Close returns.
	Close() error
}
