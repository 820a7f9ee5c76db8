package session

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/native"
)

// handleNative reconciles one inbound native event. It runs on the serial queue.
func (m *Manager) handleNative(ev native.Event) {
	m.logger.WithFields(logrus.Fields{
		"event":  ev.Kind.String(),
		"device": ev.DeviceID,
	}).Debug("Native event")

	// discovered and connected ids are resolved by their own handlers
	if ev.DeviceID != "" && ev.Kind != native.DeviceDiscovered && ev.Kind != native.DeviceConnected {
		m.ensureRecord(ev.DeviceID)
	}

	switch ev.Kind {
	case native.BluetoothStateChanged:
		m.enabled.Store(ev.Enabled)
		m.logger.WithField("enabled", ev.Enabled).Info("Bluetooth state changed")
		m.dispatcher.Publish(BluetoothStateEvent{Meta: meta(""), Enabled: ev.Enabled, Err: ev.Err})

	case native.DeviceDiscovered:
		m.onDiscovered(ev)

	case native.DeviceConnected:
		m.onConnected(ev.DeviceID)

	case native.DeviceDisconnected:
		m.onDisconnected(ev.DeviceID)

	case native.ConnectionFailed:
		m.onConnectionFailed(ev)

	case native.PermissionResult:
		m.logger.WithField("granted", ev.Enabled).Info("Permission result")
		m.dispatcher.Publish(PermissionEvent{Meta: meta(""), Granted: ev.Enabled, Err: ev.Err})

	case native.CharacteristicValue:
		m.onValue(ev)

	case native.WriteSuccess, native.WriteError:
		m.onWriteResult(ev)

	case native.NotificationStateChanged:
		m.onNotifyState(ev)

	default:
		m.logger.WithField("event", ev.Kind.String()).Warn("Ignoring unknown native event")
	}
}

func (m *Manager) onDiscovered(ev native.Event) {
	if ev.Device == nil || ev.DeviceID == "" {
		m.logger.WithField("error", ev.Err).Warn("Dropping discovery without a device identifier")
		return
	}
	if ev.Err != nil {
		m.logger.WithFields(logrus.Fields{"device": ev.DeviceID, "error": ev.Err}).
			Warn("Dropping undecodable advertisement")
		return
	}

	rec, isNew := m.registry.Upsert(ev.Device)
	log := m.logger.WithFields(logrus.Fields{"device": rec.ID, "rssi": rec.RSSI})
	if isNew {
		log.WithField("name", rec.DisplayName()).Info("Device discovered")
	} else {
		log.Debug("Device refreshed")
	}
	m.dispatcher.Publish(DeviceDiscoveredEvent{Meta: meta(rec.ID), Device: rec, New: isNew})
}

func (m *Manager) onConnected(id string) {
	log := m.logger.WithField("device", id)

	switch m.states.get(id) {
	case Connected:
		log.Debug("Duplicate connected event dropped")
		return
	case Disconnecting:
		// the link came up after a disconnect was requested; tear it down again
		log.Info("Connected while disconnecting, re-issuing disconnect")
		if err := m.adapter.Disconnect(id); err != nil {
			err = device.NormalizeError(err)
			log.WithField("error", err).Error("Adapter rejected disconnect, closing locally")
			m.closeConnection(id, "adapter rejected disconnect: "+err.Error(), true)
		}
		return
	}

	rec := m.resolveRecord(id)
	m.transition(id, Connected, "connected")
	log.WithField("name", rec.DisplayName()).Info("Device connected")
	m.dispatcher.Publish(ConnectedEvent{Meta: meta(id), Device: rec})
}

func (m *Manager) onDisconnected(id string) {
	log := m.logger.WithField("device", id)

	switch m.states.get(id) {
	case Disconnected:
		log.Debug("Duplicate disconnected event dropped")
	case Connecting:
		log.Warn("Disconnected before connection completed")
		m.fail(id, "disconnected before connection completed", nil)
	case Disconnecting:
		m.closeConnection(id, "disconnect completed", true)
	default:
		log.Warn("Connection lost")
		m.closeConnection(id, "connection lost", false)
	}
}

func (m *Manager) onConnectionFailed(ev native.Event) {
	log := m.logger.WithFields(logrus.Fields{"device": ev.DeviceID, "reason": ev.Message})
	if m.states.get(ev.DeviceID) == Disconnected {
		log.Warn("Connection failure for a disconnected device dropped")
		return
	}
	log.Error("Connection failed")

	var err error = device.AdapterError(ev.Message)
	if ev.Err != nil {
		err = ev.Err
	}
	m.fail(ev.DeviceID, ev.Message, err)
}

func (m *Manager) onValue(ev native.Event) {
	char := normalizeChar(ev.CharUUID)
	log := m.logger.WithFields(logrus.Fields{"device": ev.DeviceID, "char": char})

	data, err := device.DecodeHex(ev.Payload)
	if ev.Err != nil {
		data, err = []byte{}, ev.Err
	}
	if err != nil {
		log.WithField("error", err).Warn("Undecodable characteristic value")
	}

	// the first value of a subscription confirms it when the stack has no explicit callback
	if op, ok := m.correlator.Resolve(OpKey{DeviceID: ev.DeviceID, CharUUID: char, Kind: OpSubscribe}); ok {
		m.setSubscribed(ev.DeviceID, char, true)
		log.WithField("latency", time.Since(op.SubmittedAt)).Debug("Subscription confirmed by first value")
		m.dispatcher.Publish(SubscriptionEvent{Meta: meta(ev.DeviceID), CharUUID: char, Subscribed: true})
	}

	m.dispatcher.Publish(CharacteristicValueEvent{Meta: meta(ev.DeviceID), CharUUID: char, Data: data, Err: err})
}

func (m *Manager) onWriteResult(ev native.Event) {
	char := normalizeChar(ev.CharUUID)
	log := m.logger.WithFields(logrus.Fields{"device": ev.DeviceID, "char": char, "kind": OpWrite.String()})

	var failure error
	switch {
	case ev.Err != nil:
		failure = ev.Err
	case ev.Kind == native.WriteError:
		msg := ev.Message
		if msg == "" {
			msg = native.UnknownError
		}
		failure = device.AdapterError(msg)
	}

	op, ok := m.correlator.Resolve(OpKey{DeviceID: ev.DeviceID, CharUUID: char, Kind: OpWrite})
	if !ok {
		log.Warn("Unsolicited write response")
	}

	if failure != nil {
		log.WithField("error", failure).Error("Write failed")
		m.dispatcher.Publish(WriteErrorEvent{Meta: meta(ev.DeviceID), CharUUID: char, Err: failure, Unsolicited: !ok})
		return
	}

	var latency time.Duration
	if ok {
		latency = m.opts.Clock().Sub(op.SubmittedAt)
		log.WithField("latency", latency).Debug("Write acknowledged")
	}
	m.dispatcher.Publish(WriteSuccessEvent{Meta: meta(ev.DeviceID), CharUUID: char, Latency: latency, Unsolicited: !ok})
}

func (m *Manager) onNotifyState(ev native.Event) {
	char := normalizeChar(ev.CharUUID)
	log := m.logger.WithFields(logrus.Fields{"device": ev.DeviceID, "char": char})

	if ev.Message != "" || ev.Err != nil {
		var failure error = device.AdapterError(ev.Message)
		if ev.Err != nil {
			failure = ev.Err
		}
		_, ok := m.correlator.Resolve(OpKey{DeviceID: ev.DeviceID, CharUUID: char, Kind: OpSubscribe})
		if !ok {
			_, ok = m.correlator.Resolve(OpKey{DeviceID: ev.DeviceID, CharUUID: char, Kind: OpUnsubscribe})
		}
		log.WithField("error", failure).Error("Notification change failed")
		m.dispatcher.Publish(SubscriptionEvent{
			Meta:        meta(ev.DeviceID),
			CharUUID:    char,
			Subscribed:  m.isSubscribed(ev.DeviceID, char),
			Err:         failure,
			Unsolicited: !ok,
		})
		return
	}

	kind := OpUnsubscribe
	if ev.Enabled {
		kind = OpSubscribe
	}
	_, ok := m.correlator.Resolve(OpKey{DeviceID: ev.DeviceID, CharUUID: char, Kind: kind})
	if !ok {
		log.WithField("kind", kind.String()).Debug("Unsolicited notification state change")
	}

	m.setSubscribed(ev.DeviceID, char, ev.Enabled)
	log.WithField("subscribed", ev.Enabled).Info("Notification state changed")
	m.dispatcher.Publish(SubscriptionEvent{
		Meta:        meta(ev.DeviceID),
		CharUUID:    char,
		Subscribed:  ev.Enabled,
		Unsolicited: !ok,
	})
}

// transition moves id to the new state and publishes the change
func (m *Manager) transition(id string, to State, reason string) {
	from := m.states.set(id, to)
	log := m.logger.WithFields(logrus.Fields{"device": id, "from": from.String(), "to": to.String()})
	if !CanTransition(from, to) {
		log.Warn("Unexpected connection state transition")
	} else {
		log.Debug("Connection state changed")
	}
	m.dispatcher.Publish(ConnectionStateEvent{Meta: meta(id), From: from, To: to, Reason: reason})
}

// fail publishes a failed connection attempt and returns the device to Disconnected
func (m *Manager) fail(id, reason string, err error) {
	if err == nil {
		err = device.AdapterError(reason)
	}
	m.cancelPending(id, reason)
	m.transition(id, Failed, reason)

	rec := m.ensureRecord(id)
	m.dispatcher.Publish(ConnectionFailedEvent{Meta: meta(id), Device: rec, Reason: reason, Err: err})

	m.transition(id, Disconnected, reason)
	m.dropConnectionCaches(id)
}

// closeConnection ends an established or closing connection
func (m *Manager) closeConnection(id, reason string, requested bool) {
	m.cancelPending(id, reason)
	m.transition(id, Disconnected, reason)
	m.dropConnectionCaches(id)

	rec := m.ensureRecord(id)
	m.logger.WithFields(logrus.Fields{"device": id, "requested": requested}).Info("Device disconnected")
	m.dispatcher.Publish(DisconnectedEvent{Meta: meta(id), Device: rec, Requested: requested})
}

func (m *Manager) cancelPending(id, reason string) {
	for _, op := range m.correlator.CancelDevice(id) {
		m.logger.WithFields(logrus.Fields{
			"device": id,
			"char":   op.Key.CharUUID,
			"kind":   op.Key.Kind.String(),
		}).Debug("Pending operation cancelled")
		m.publishOutcome(op, &device.Error{Kind: device.KindCancelled, Msg: reason})
	}
}

// publishOutcome reports an operation that ended without a native response
func (m *Manager) publishOutcome(op *PendingOperation, err error) {
	id, char := op.Key.DeviceID, op.Key.CharUUID
	switch op.Key.Kind {
	case OpWrite:
		m.dispatcher.Publish(WriteErrorEvent{Meta: meta(id), CharUUID: char, Err: err})
	default:
		m.dispatcher.Publish(SubscriptionEvent{
			Meta:       meta(id),
			CharUUID:   char,
			Subscribed: m.isSubscribed(id, char),
			Err:        err,
		})
	}
}

// resolveRecord finds the record of a device that connected, adopting the adapter's own
// discovery list before falling back to a placeholder.
func (m *Manager) resolveRecord(id string) *device.Record {
	if rec, ok := m.registry.Get(id); ok {
		return rec
	}

	for i, n := 0, m.adapter.DiscoveredDeviceCount(); i < n; i++ {
		rec, ok := m.adapter.DiscoveredDeviceAt(i)
		if ok && rec != nil && rec.ID == id {
			stored, _ := m.registry.Upsert(rec)
			m.logger.WithField("device", id).Debug("Adopted record from adapter discovery list")
			return stored
		}
	}

	return m.ensureRecord(id)
}

// ensureRecord returns the record for id, creating a placeholder for an unknown device
func (m *Manager) ensureRecord(id string) *device.Record {
	rec, created := m.registry.EnsurePlaceholder(id)
	if created {
		m.logger.WithField("device", id).Debug("Unknown device, created placeholder record")
	}
	return rec
}

func (m *Manager) dropConnectionCaches(id string) {
	delete(m.characteristics, id)
	delete(m.services, id)
	delete(m.subscribed, id)
}

func (m *Manager) isSubscribed(id, char string) bool {
	return m.subscribed[id][char]
}

func (m *Manager) setSubscribed(id, char string, on bool) {
	set := m.subscribed[id]
	if !on {
		delete(set, char)
		return
	}
	if set == nil {
		set = make(map[string]bool)
		m.subscribed[id] = set
	}
	set[char] = true
}
