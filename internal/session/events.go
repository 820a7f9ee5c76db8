package session

import (
	"fmt"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// Category selects a multiplexed notification channel of the dispatcher
type Category int

const (
	CategoryStateChanged Category = iota + 1
	CategoryDeviceDiscovered
	CategoryConnected
	CategoryDisconnected
	CategoryConnectionFailed
	CategoryPermissionResult
	CategoryCharacteristicValue
	CategoryWriteSuccess
	CategoryWriteError
	CategoryConnectionState
	CategorySubscription
	CategoryScanState
)

var categoryNames = map[Category]string{
	CategoryStateChanged:        "state-changed",
	CategoryDeviceDiscovered:    "device-discovered",
	CategoryConnected:           "connected",
	CategoryDisconnected:        "disconnected",
	CategoryConnectionFailed:    "connection-failed",
	CategoryPermissionResult:    "permission-result",
	CategoryCharacteristicValue: "characteristic-value",
	CategoryWriteSuccess:        "write-success",
	CategoryWriteError:          "write-error",
	CategoryConnectionState:     "connection-state-changed",
	CategorySubscription:        "subscription-changed",
	CategoryScanState:           "scan-state-changed",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Categories lists every category in declaration order
func Categories() []Category {
	out := make([]Category, 0, len(categoryNames))
	for c := CategoryStateChanged; c <= CategoryScanState; c++ {
		out = append(out, c)
	}
	return out
}

// Event is anything published by the dispatcher
type Event interface {
	Category() Category
	// DeviceID is empty for adapter-wide events
	DeviceID() string
}

// Meta carries the fields common to every event
type Meta struct {
	ID string
	At time.Time
}

func (m Meta) DeviceID() string { return m.ID }

func meta(id string) Meta {
	return Meta{ID: id, At: time.Now()}
}

// BluetoothStateEvent reports the adapter power state; Err is set when initialization failed
type BluetoothStateEvent struct {
	Meta
	Enabled bool
	Err     error
}

func (BluetoothStateEvent) Category() Category { return CategoryStateChanged }

// DeviceDiscoveredEvent reports a new or refreshed registry record
type DeviceDiscoveredEvent struct {
	Meta
	Device *device.Record
	New    bool
}

func (DeviceDiscoveredEvent) Category() Category { return CategoryDeviceDiscovered }

// ConnectedEvent fires once per established connection
type ConnectedEvent struct {
	Meta
	Device *device.Record
}

func (ConnectedEvent) Category() Category { return CategoryConnected }

// DisconnectedEvent fires once per closed connection, requested or not
type DisconnectedEvent struct {
	Meta
	Device    *device.Record
	Requested bool
}

func (DisconnectedEvent) Category() Category { return CategoryDisconnected }

// ConnectionFailedEvent reports a connection attempt that did not succeed
type ConnectionFailedEvent struct {
	Meta
	Device *device.Record
	Reason string
	Err    error
}

func (ConnectionFailedEvent) Category() Category { return CategoryConnectionFailed }

// PermissionEvent reports the outcome of a permission request
type PermissionEvent struct {
	Meta
	Granted bool
	Err     error
}

func (PermissionEvent) Category() Category { return CategoryPermissionResult }

// CharacteristicValueEvent carries an inbound notification. When the payload could not
// be decoded Data is empty and Err is a decode error.
type CharacteristicValueEvent struct {
	Meta
	CharUUID string
	Data     []byte
	Err      error
}

func (CharacteristicValueEvent) Category() Category { return CategoryCharacteristicValue }

// WriteSuccessEvent reports an acknowledged write. Unsolicited is set when no pending
// write matched the acknowledgement.
type WriteSuccessEvent struct {
	Meta
	CharUUID    string
	Latency     time.Duration
	Unsolicited bool
}

func (WriteSuccessEvent) Category() Category { return CategoryWriteSuccess }

// WriteErrorEvent reports a failed write: adapter rejection, Timeout or Cancelled.
type WriteErrorEvent struct {
	Meta
	CharUUID    string
	Err         error
	Unsolicited bool
}

func (WriteErrorEvent) Category() Category { return CategoryWriteError }

// ConnectionStateEvent reports every lifecycle transition
type ConnectionStateEvent struct {
	Meta
	From   State
	To     State
	Reason string
}

func (ConnectionStateEvent) Category() Category { return CategoryConnectionState }

// SubscriptionEvent reports the outcome of a subscribe or unsubscribe request
type SubscriptionEvent struct {
	Meta
	CharUUID    string
	Subscribed  bool
	Err         error
	Unsolicited bool
}

func (SubscriptionEvent) Category() Category { return CategorySubscription }

// ScanStateEvent reports scanning start/stop; Err is set when the adapter refused
type ScanStateEvent struct {
	Meta
	Scanning bool
	Err      error
}

func (ScanStateEvent) Category() Category { return CategoryScanState }
