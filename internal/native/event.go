package native

import (
	"fmt"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// EventKind identifies an inbound native callback
type EventKind int

const (
	BluetoothStateChanged EventKind = iota + 1
	DeviceDiscovered
	DeviceConnected
	DeviceDisconnected
	ConnectionFailed
	PermissionResult
	CharacteristicValue
	WriteSuccess
	WriteError
	NotificationStateChanged
)

var eventKindNames = map[EventKind]string{
	BluetoothStateChanged:    "bluetooth-state-changed",
	DeviceDiscovered:         "device-discovered",
	DeviceConnected:          "device-connected",
	DeviceDisconnected:       "device-disconnected",
	ConnectionFailed:         "connection-failed",
	PermissionResult:         "permission-result",
	CharacteristicValue:      "characteristic-value",
	WriteSuccess:             "write-success",
	WriteError:               "write-error",
	NotificationStateChanged: "notification-state-changed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseEventKind maps a wire method name back to its kind
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Event is one inbound native callback. Which fields are meaningful depends on Kind.
type Event struct {
	Kind     EventKind
	DeviceID string
	CharUUID string

	// Enabled carries the boolean of bluetooth-state-changed, permission-result and
	// notification-state-changed.
	Enabled bool

	// Device is the advertisement record of device-discovered
	Device *device.Record

	// Payload is the hex-encoded value of characteristic-value
	Payload string

	// Message is the adapter-supplied failure text of connection-failed, write-error and
	// notification-state-changed
	Message string

	// Err is set when the event was only partially decoded
	Err error

	ReceivedAt time.Time
}

func newEvent(kind EventKind, deviceID string) Event {
	return Event{Kind: kind, DeviceID: deviceID, ReceivedAt: time.Now()}
}

// StateChanged reports the adapter power state
func StateChanged(enabled bool) Event {
	ev := newEvent(BluetoothStateChanged, "")
	ev.Enabled = enabled
	return ev
}

// Discovered reports an advertisement
func Discovered(rec *device.Record) Event {
	ev := newEvent(DeviceDiscovered, rec.ID)
	ev.Device = rec
	return ev
}

// Connected reports an established connection
func Connected(deviceID string) Event {
	return newEvent(DeviceConnected, deviceID)
}

// Disconnected reports a closed connection, requested or not
func Disconnected(deviceID string) Event {
	return newEvent(DeviceDisconnected, deviceID)
}

// Failed reports a connection attempt that did not succeed
func Failed(deviceID, message string) Event {
	ev := newEvent(ConnectionFailed, deviceID)
	ev.Message = message
	return ev
}

// Permission reports the outcome of a permission request
func Permission(granted bool) Event {
	ev := newEvent(PermissionResult, "")
	ev.Enabled = granted
	return ev
}

// Value reports a notification, indication or read result
func Value(deviceID, charUUID, hexPayload string) Event {
	ev := newEvent(CharacteristicValue, deviceID)
	ev.CharUUID = charUUID
	ev.Payload = hexPayload
	return ev
}

// Written reports an acknowledged write
func Written(deviceID, charUUID string) Event {
	ev := newEvent(WriteSuccess, deviceID)
	ev.CharUUID = charUUID
	return ev
}

// WriteFailed reports a rejected write
func WriteFailed(deviceID, charUUID, message string) Event {
	ev := newEvent(WriteError, deviceID)
	ev.CharUUID = charUUID
	ev.Message = message
	return ev
}

// NotifyState reports the outcome of a subscribe or unsubscribe request.
// A non-empty message means the change was rejected.
func NotifyState(deviceID, charUUID string, enabled bool, message string) Event {
	ev := newEvent(NotificationStateChanged, deviceID)
	ev.CharUUID = charUUID
	ev.Enabled = enabled
	ev.Message = message
	return ev
}
