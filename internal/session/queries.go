package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/srg/blecentral/internal/device"
)

// Devices returns every discovered device, oldest first
func (m *Manager) Devices() []*device.Record {
	return m.registry.List()
}

// Device returns the record of one device
func (m *Manager) Device(id string) (*device.Record, bool) {
	return m.registry.Get(id)
}

// IsDiscovered reports whether id is in the registry
func (m *Manager) IsDiscovered(id string) bool {
	return m.registry.Contains(id)
}

// State returns the connection state of id; unknown devices are Disconnected
func (m *Manager) State(id string) State {
	return m.states.get(id)
}

// IsDeviceConnected reports whether id is Connected
func (m *Manager) IsDeviceConnected(id string) bool {
	return m.states.get(id) == Connected
}

// ConnectedDevices returns the sorted identifiers of connected devices
func (m *Manager) ConnectedDevices() []string {
	return m.states.ids(Connected)
}

// ConnectedCount returns the number of connected devices
func (m *Manager) ConnectedCount() int {
	return m.states.count(Connected)
}

// BluetoothEnabled asks the adapter whether the radio is powered
func (m *Manager) BluetoothEnabled() bool {
	enabled := m.adapter.IsBluetoothEnabled()
	m.enabled.Store(enabled)
	return enabled
}

// Scanning reports whether a scan was started and not stopped
func (m *Manager) Scanning() bool {
	return m.scanning.Load()
}

// Characteristics lists the characteristics of a connected device. The list is fetched
// from the adapter once per connection; Subscribed reflects confirmed subscriptions.
func (m *Manager) Characteristics(ctx context.Context, id string) ([]device.Characteristic, error) {
	var out []device.Characteristic
	err := m.call(ctx, func() error {
		if err := m.requireConnected(id); err != nil {
			return err
		}
		chars, ok := m.characteristics[id]
		if !ok {
			fetched, err := m.adapter.DeviceCharacteristics(id)
			if err != nil {
				return device.NormalizeError(err)
			}
			chars = normalizeCharacteristics(fetched)
			m.characteristics[id] = chars
		}
		out = m.withSubscriptions(id, chars)
		return nil
	})
	return out, err
}

// Services lists the services of a connected device
func (m *Manager) Services(ctx context.Context, id string) ([]device.Service, error) {
	var out []device.Service
	err := m.call(ctx, func() error {
		if err := m.requireConnected(id); err != nil {
			return err
		}
		services, ok := m.services[id]
		if !ok {
			fetched, err := m.adapter.DeviceServices(id)
			if err != nil {
				return device.NormalizeError(err)
			}
			services = make([]device.Service, len(fetched))
			for i, s := range fetched {
				s.UUID = normalizeChar(s.UUID)
				services[i] = s
			}
			m.services[id] = services
		}
		out = append([]device.Service(nil), services...)
		return nil
	})
	return out, err
}

// ServiceCharacteristics lists the characteristics of one service of a connected device
func (m *Manager) ServiceCharacteristics(ctx context.Context, id, serviceUUID string) ([]device.Characteristic, error) {
	if serviceUUID == "" {
		return nil, device.NewError(device.KindInvalidRequest, "service id is empty")
	}

	var out []device.Characteristic
	err := m.call(ctx, func() error {
		if err := m.requireConnected(id); err != nil {
			return err
		}
		fetched, err := m.adapter.ServiceCharacteristics(id, serviceUUID)
		if err != nil {
			return device.NormalizeError(err)
		}
		out = m.withSubscriptions(id, normalizeCharacteristics(fetched))
		return nil
	})
	return out, err
}

// Pending returns a snapshot of in-flight operations, oldest first
func (m *Manager) Pending(ctx context.Context) ([]PendingOperation, error) {
	var out []PendingOperation
	err := m.call(ctx, func() error {
		out = m.correlator.Snapshot()
		return nil
	})
	return out, err
}

// Status renders a human-readable session summary
func (m *Manager) Status() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bluetooth Enabled: %t\n", m.BluetoothEnabled())
	fmt.Fprintf(&sb, "Discovered Devices: %d\n", m.registry.Len())

	connected := m.ConnectedDevices()
	fmt.Fprintf(&sb, "Connected Devices: %d\n", len(connected))
	if len(connected) > 0 {
		sb.WriteString("Connected devices:\n")
		for _, id := range connected {
			name := device.UnknownName
			if rec, ok := m.registry.Get(id); ok {
				name = rec.DisplayName()
			}
			fmt.Fprintf(&sb, "  - %s (%s)\n", name, id)
		}
	}
	return sb.String()
}

func (m *Manager) withSubscriptions(id string, chars []device.Characteristic) []device.Characteristic {
	out := make([]device.Characteristic, len(chars))
	for i, c := range chars {
		c.Subscribed = m.isSubscribed(id, c.UUID)
		out[i] = c
	}
	return out
}

func normalizeCharacteristics(in []device.Characteristic) []device.Characteristic {
	out := make([]device.Characteristic, len(in))
	for i, c := range in {
		c.UUID = normalizeChar(c.UUID)
		c.ServiceUUID = normalizeChar(c.ServiceUUID)
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ServiceUUID != out[j].ServiceUUID {
			return out[i].ServiceUUID < out[j].ServiceUUID
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}
