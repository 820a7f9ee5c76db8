package session

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
)

// WriteMode selects between acknowledged and unacknowledged writes
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

func (m WriteMode) String() string {
	if m == WithoutResponse {
		return "without-response"
	}
	return "with-response"
}

// StartScan clears the registry and starts scanning. The result arrives as a ScanStateEvent.
func (m *Manager) StartScan(ctx context.Context) error {
	return m.call(ctx, func() error {
		m.registry.Clear()
		m.logger.Info("Starting scan")

		if err := m.adapter.StartScan(); err != nil {
			err = device.NormalizeError(err)
			m.logger.WithField("error", err).Error("Failed to start scan")
			m.dispatcher.Publish(ScanStateEvent{Meta: meta(""), Scanning: m.scanning.Load(), Err: err})
			return nil
		}
		m.scanning.Store(true)
		m.dispatcher.Publish(ScanStateEvent{Meta: meta(""), Scanning: true})
		return nil
	})
}

// StopScan stops scanning; the registry is kept
func (m *Manager) StopScan(ctx context.Context) error {
	return m.call(ctx, func() error {
		m.logger.Info("Stopping scan")

		if err := m.adapter.StopScan(); err != nil {
			err = device.NormalizeError(err)
			m.logger.WithField("error", err).Error("Failed to stop scan")
			m.dispatcher.Publish(ScanStateEvent{Meta: meta(""), Scanning: m.scanning.Load(), Err: err})
			return nil
		}
		m.scanning.Store(false)
		m.dispatcher.Publish(ScanStateEvent{Meta: meta(""), Scanning: false})
		return nil
	})
}

// RequestPermissions asks the platform for BLE permissions. The result arrives as a PermissionEvent.
func (m *Manager) RequestPermissions(ctx context.Context) error {
	return m.call(ctx, func() error {
		if err := m.adapter.RequestPermissions(); err != nil {
			err = device.NormalizeError(err)
			m.logger.WithField("error", err).Error("Permission request failed")
			m.dispatcher.Publish(PermissionEvent{Meta: meta(""), Granted: false, Err: err})
		}
		return nil
	})
}

// Connect starts connecting to deviceID. Connecting to a connected device is a no-op;
// connecting while a connection or disconnection is in progress is rejected.
func (m *Manager) Connect(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return device.NewError(device.KindInvalidRequest, "device id is empty")
	}

	return m.call(ctx, func() error {
		log := m.logger.WithField("device", deviceID)

		switch m.states.get(deviceID) {
		case Connected:
			log.Debug("Connect ignored, already connected")
			return nil
		case Connecting:
			return device.NewError(device.KindInvalidRequest, "connection to %s already in progress", deviceID)
		case Disconnecting:
			return device.NewError(device.KindInvalidRequest, "device %s is disconnecting", deviceID)
		}

		if _, created := m.registry.EnsurePlaceholder(deviceID); created {
			log.Debug("Connecting to undiscovered device, created placeholder record")
		}
		m.transition(deviceID, Connecting, "connect requested")
		log.Info("Connecting")

		if err := m.adapter.Connect(deviceID); err != nil {
			err = device.NormalizeError(err)
			log.WithField("error", err).Error("Adapter rejected connect")
			m.fail(deviceID, err.Error(), err)
		}
		return nil
	})
}

// Disconnect closes the connection to deviceID and cancels its pending operations.
// It is a no-op for a device that is already disconnected or disconnecting.
func (m *Manager) Disconnect(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return device.NewError(device.KindInvalidRequest, "device id is empty")
	}
	return m.call(ctx, func() error {
		m.disconnect(deviceID)
		return nil
	})
}

// DisconnectAll disconnects every connected or connecting device
func (m *Manager) DisconnectAll(ctx context.Context) error {
	return m.call(ctx, func() error {
		ids := m.states.ids(Connected, Connecting)
		if len(ids) > 0 {
			m.logger.WithField("count", len(ids)).Info("Disconnecting all devices")
		}
		for _, id := range ids {
			m.disconnect(id)
		}
		return nil
	})
}

func (m *Manager) disconnect(deviceID string) {
	log := m.logger.WithField("device", deviceID)

	switch m.states.get(deviceID) {
	case Disconnected, Disconnecting:
		log.Debug("Disconnect ignored, not connected")
		return
	}

	m.transition(deviceID, Disconnecting, "disconnect requested")
	m.cancelPending(deviceID, "disconnect requested")
	log.Info("Disconnecting")

	if err := m.adapter.Disconnect(deviceID); err != nil {
		err = device.NormalizeError(err)
		log.WithField("error", err).Error("Adapter rejected disconnect, closing locally")
		m.closeConnection(deviceID, "adapter rejected disconnect: "+err.Error(), true)
	}
}

// SubmitWrite sends data to a characteristic of a connected device. With response, the
// outcome arrives as WriteSuccessEvent or WriteErrorEvent; without, success is reported
// as soon as the adapter accepts the request.
func (m *Manager) SubmitWrite(ctx context.Context, deviceID, charUUID string, data []byte, mode WriteMode) error {
	if deviceID == "" || charUUID == "" {
		return device.NewError(device.KindInvalidRequest, "device id and characteristic id are required")
	}
	payload := append([]byte(nil), data...)

	return m.call(ctx, func() error {
		if err := m.requireConnected(deviceID); err != nil {
			return err
		}
		if len(payload) == 0 {
			return device.NewError(device.KindInvalidRequest, "write payload is empty")
		}

		char := normalizeChar(charUUID)
		log := m.logger.WithFields(logrus.Fields{
			"device": deviceID,
			"char":   char,
			"kind":   OpWrite.String(),
			"mode":   mode.String(),
			"bytes":  len(payload),
		})
		hexPayload := device.EncodeHex(payload)

		key := OpKey{DeviceID: deviceID, CharUUID: char, Kind: OpWrite}
		if m.correlator.IsPending(key) {
			return device.NewError(device.KindOperationInProgress, "%s already pending", key)
		}

		if mode == WithoutResponse {
			if err := m.adapter.WriteCharacteristic(deviceID, charUUID, hexPayload, false); err != nil {
				err = device.NormalizeError(err)
				log.WithField("error", err).Error("Adapter rejected write")
				m.dispatcher.Publish(WriteErrorEvent{Meta: meta(deviceID), CharUUID: char, Err: err})
				return nil
			}
			log.Debug("Write without response sent")
			m.dispatcher.Publish(WriteSuccessEvent{Meta: meta(deviceID), CharUUID: char})
			return nil
		}

		op, err := m.correlator.Register(key, payload)
		if err != nil {
			return err
		}
		log.Debug("Write queued")

		if err := m.adapter.WriteCharacteristic(deviceID, charUUID, hexPayload, true); err != nil {
			err = device.NormalizeError(err)
			log.WithField("error", err).Error("Adapter rejected write")
			m.correlator.Resolve(op.Key)
			m.dispatcher.Publish(WriteErrorEvent{Meta: meta(deviceID), CharUUID: char, Err: err})
		}
		return nil
	})
}

// WriteHex is SubmitWrite for a hex-encoded payload
func (m *Manager) WriteHex(ctx context.Context, deviceID, charUUID, hexPayload string, mode WriteMode) error {
	data, err := device.DecodeHex(hexPayload)
	if err != nil {
		return device.NewError(device.KindInvalidRequest, "invalid hex payload: %v", err)
	}
	return m.SubmitWrite(ctx, deviceID, charUUID, data, mode)
}

// SubmitSubscribe enables notifications on a characteristic. The outcome arrives as a
// SubscriptionEvent.
func (m *Manager) SubmitSubscribe(ctx context.Context, deviceID, charUUID string) error {
	return m.submitNotify(ctx, deviceID, charUUID, OpSubscribe)
}

// SubmitUnsubscribe disables notifications on a characteristic
func (m *Manager) SubmitUnsubscribe(ctx context.Context, deviceID, charUUID string) error {
	return m.submitNotify(ctx, deviceID, charUUID, OpUnsubscribe)
}

func (m *Manager) submitNotify(ctx context.Context, deviceID, charUUID string, kind OpKind) error {
	if deviceID == "" || charUUID == "" {
		return device.NewError(device.KindInvalidRequest, "device id and characteristic id are required")
	}

	return m.call(ctx, func() error {
		if err := m.requireConnected(deviceID); err != nil {
			return err
		}

		char := normalizeChar(charUUID)
		op, err := m.correlator.Register(OpKey{DeviceID: deviceID, CharUUID: char, Kind: kind}, nil)
		if err != nil {
			return err
		}
		log := m.logger.WithFields(logrus.Fields{"device": deviceID, "char": char, "kind": kind.String()})
		log.Debug("Notification change queued")

		send := m.adapter.Subscribe
		if kind == OpUnsubscribe {
			send = m.adapter.Unsubscribe
		}
		if err := send(deviceID, charUUID); err != nil {
			err = device.NormalizeError(err)
			log.WithField("error", err).Error("Adapter rejected notification change")
			m.correlator.Resolve(op.Key)
			m.dispatcher.Publish(SubscriptionEvent{
				Meta:       meta(deviceID),
				CharUUID:   char,
				Subscribed: m.isSubscribed(deviceID, char),
				Err:        err,
			})
		}
		return nil
	})
}

// ClearDevices empties the registry. Connection states are kept.
func (m *Manager) ClearDevices(ctx context.Context) error {
	return m.call(ctx, func() error {
		m.registry.Clear()
		m.logger.Debug("Device registry cleared")
		return nil
	})
}

func (m *Manager) requireConnected(deviceID string) error {
	if s := m.states.get(deviceID); s != Connected {
		return device.NewError(device.KindNotConnected, "device %s is %s", deviceID, s)
	}
	return nil
}

// normalizeChar keys characteristics by their normalized UUID, falling back to the
// trimmed lower-case input for identifiers that are not UUIDs
func normalizeChar(id string) string {
	if n := device.NormalizeUUID(id); n != "" {
		return n
	}
	return strings.ToLower(strings.TrimSpace(id))
}
