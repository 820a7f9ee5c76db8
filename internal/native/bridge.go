package native

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
)

// Bridge decodes serialized native callbacks, (method, payload) string pairs, into
// Events and forwards them to a Sink.
//
// A malformed payload never stops the bridge: it is logged, and when the device it
// concerns can still be identified a best-effort event carrying Err is forwarded so the
// session can report the failure.
type Bridge struct {
	sink   Sink
	logger *logrus.Logger
}

// NewBridge creates a bridge forwarding into sink
func NewBridge(sink Sink, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{sink: sink, logger: logger}
}

// Receive decodes one callback. The returned error is informational; the bridge has
// already logged it and forwarded whatever could be salvaged.
func (b *Bridge) Receive(method, payload string) error {
	kind, ok := ParseEventKind(method)
	if !ok {
		err := device.NewError(device.KindDecode, "unknown native callback %q", method)
		b.logger.WithField("method", method).Warn("Dropping unknown native callback")
		return err
	}

	ev, err := b.decode(kind, payload)
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"method":  method,
			"payload": payload,
			"error":   err,
		}).Warn("Malformed native payload")

		if ev.DeviceID != "" {
			ev.Err = err
			b.sink.Deliver(ev)
		}
		return err
	}

	b.sink.Deliver(ev)
	return nil
}

func (b *Bridge) decode(kind EventKind, payload string) (Event, error) {
	switch kind {
	case BluetoothStateChanged:
		enabled, err := DecodeBool(payload)
		if err != nil {
			return Event{}, err
		}
		return StateChanged(enabled), nil

	case PermissionResult:
		granted, err := DecodeBool(payload)
		if err != nil {
			return Event{}, err
		}
		return Permission(granted), nil

	case DeviceDiscovered:
		rec, err := DecodeDevice(payload)
		if err != nil {
			return Event{}, err
		}
		return Discovered(rec), nil

	case DeviceConnected, DeviceDisconnected:
		if payload == "" {
			return Event{}, missingField(kind.String(), "deviceId")
		}
		return newEvent(kind, payload), nil

	case ConnectionFailed:
		id, msg, err := DecodeConnectionFailure(payload)
		if err != nil {
			return Event{}, err
		}
		return Failed(id, msg), nil

	case CharacteristicValue:
		return DecodeValue(payload)

	case WriteSuccess, WriteError:
		return DecodeWriteResult(kind, payload)

	case NotificationStateChanged:
		return DecodeNotifyState(payload)
	}
	return Event{}, device.NewError(device.KindDecode, "unsupported callback %s", kind)
}

// Encode renders ev in the serialized form Receive understands.
// Adapters that produce typed events use it to speak the text protocol.
func Encode(ev Event) (string, string, error) {
	method := ev.Kind.String()
	switch ev.Kind {
	case BluetoothStateChanged, PermissionResult:
		return method, EncodeBool(ev.Enabled), nil
	case DeviceDiscovered:
		payload, err := EncodeDevice(ev.Device)
		return method, payload, err
	case DeviceConnected, DeviceDisconnected:
		return method, ev.DeviceID, nil
	case ConnectionFailed:
		return method, EncodeConnectionFailure(ev.DeviceID, ev.Message), nil
	case CharacteristicValue:
		payload, err := EncodeValue(ev.DeviceID, ev.CharUUID, ev.Payload)
		return method, payload, err
	case WriteSuccess:
		payload, err := EncodeWriteResult(ev.DeviceID, ev.CharUUID, "")
		return method, payload, err
	case WriteError:
		payload, err := EncodeWriteResult(ev.DeviceID, ev.CharUUID, ev.Message)
		return method, payload, err
	case NotificationStateChanged:
		payload, err := EncodeNotifyState(ev.DeviceID, ev.CharUUID, ev.Enabled, ev.Message)
		return method, payload, err
	}
	return "", "", device.NewError(device.KindInvalidRequest, "cannot encode %s", ev.Kind)
}
