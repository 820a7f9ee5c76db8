//go:build tinygo_ble

// Package tinygo is the hardware backend built on tinygo.org/x/bluetooth.
//
// It is selected with the tinygo_ble build tag. go-ble and tinygo both bind
// CoreBluetooth on macOS and cannot be linked into the same binary.
package tinygo

import (
	"context"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
	"tinygo.org/x/bluetooth"
)

// Adapter implements native.Adapter on tinygo.org/x/bluetooth
type Adapter struct {
	radio  *bluetooth.Adapter
	logger *logrus.Logger
	group  *groutine.Group
	links  *hashmap.Map[string, *link]

	mu         sync.Mutex
	sink       native.Sink
	enabled    bool
	scanning   bool
	discovered []*device.Record
	seen       map[string]int
}

var _ native.Adapter = (*Adapter)(nil)

type link struct {
	dev      bluetooth.Device
	services []string
	chars    map[string]bluetooth.DeviceCharacteristic
	owner    map[string]string
}

// New wraps the platform default adapter
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		radio:  bluetooth.DefaultAdapter,
		logger: logger,
		group:  groutine.NewGroup(context.Background()),
		links:  hashmap.New[string, *link](),
		seen:   make(map[string]int),
	}
}

func (a *Adapter) Bind(sink native.Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

func (a *Adapter) deliver(ev native.Event) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink.Deliver(ev)
	}
}

func (a *Adapter) Initialize() error {
	if err := a.radio.Enable(); err != nil {
		return device.NormalizeError(errors.Wrap(err, "enable adapter"))
	}

	// Link loss arrives through the adapter-wide connect handler
	a.radio.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := d.Address.String()
		if _, ok := a.links.Get(id); ok {
			a.links.Del(id)
			a.deliver(native.Disconnected(id))
		}
	})

	a.mu.Lock()
	a.enabled = true
	a.mu.Unlock()
	a.group.Go("tinygo-state", func(context.Context) { a.deliver(native.StateChanged(true)) })
	return nil
}

func (a *Adapter) RequestPermissions() error {
	a.group.Go("tinygo-permissions", func(context.Context) { a.deliver(native.Permission(true)) })
	return nil
}

func (a *Adapter) StartScan() error {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return device.NewError(device.KindAdapter, "bluetooth adapter not initialized")
	}
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.discovered = nil
	a.seen = make(map[string]int)
	a.mu.Unlock()

	a.group.Go("tinygo-scan", func(ctx context.Context) {
		stop := context.AfterFunc(ctx, func() { _ = a.radio.StopScan() })
		defer stop()

		err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			rec := recordFromScan(result)
			a.remember(rec)
			a.deliver(native.Discovered(rec))
		})
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			a.logger.WithField("error", err).Error("Scan stopped unexpectedly")
		}
	})
	return nil
}

func (a *Adapter) remember(rec *device.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.seen[rec.ID]; ok {
		a.discovered[i] = rec
		return
	}
	a.seen[rec.ID] = len(a.discovered)
	a.discovered = append(a.discovered, rec)
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()
	if !scanning {
		return nil
	}
	return a.radio.StopScan()
}

func (a *Adapter) Connect(id string) error {
	var addr bluetooth.Address
	addr.Set(id)

	a.group.Go("tinygo-connect", func(context.Context) {
		dev, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			a.deliver(native.Failed(id, device.NormalizeError(err).Error()))
			return
		}
		l, err := discover(dev)
		if err != nil {
			_ = dev.Disconnect()
			a.deliver(native.Failed(id, device.NormalizeError(errors.Wrap(err, "discover services")).Error()))
			return
		}
		a.links.Set(id, l)
		a.logger.WithFields(logrus.Fields{"device": id, "characteristics": len(l.chars)}).Info("BLE device connected")
		a.deliver(native.Connected(id))
	})
	return nil
}

func discover(dev bluetooth.Device) (*link, error) {
	svcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	l := &link{
		dev:   dev,
		chars: make(map[string]bluetooth.DeviceCharacteristic),
		owner: make(map[string]string),
	}
	for _, svc := range svcs {
		svcUUID := device.NormalizeUUID(svc.UUID().String())
		l.services = append(l.services, svcUUID)
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, errors.Wrapf(err, "discover characteristics of %s", svcUUID)
		}
		for _, c := range chars {
			uuid := device.NormalizeUUID(c.UUID().String())
			l.chars[uuid] = c
			l.owner[uuid] = svcUUID
		}
	}
	return l, nil
}

func (a *Adapter) Disconnect(id string) error {
	l, ok := a.links.Get(id)
	if !ok {
		return device.NewError(device.KindNotConnected, "device not connected")
	}
	a.group.Go("tinygo-disconnect", func(context.Context) {
		if err := l.dev.Disconnect(); err != nil {
			a.logger.WithFields(logrus.Fields{"device": id, "error": err}).Warn("BLE device disconnected with errors")
		}
		if a.links.Del(id) {
			a.deliver(native.Disconnected(id))
		}
	})
	return nil
}

func (a *Adapter) lookup(id, charUUID string) (bluetooth.DeviceCharacteristic, error) {
	l, ok := a.links.Get(id)
	if !ok {
		return bluetooth.DeviceCharacteristic{}, device.NewError(device.KindNotConnected, "device not connected")
	}
	c, ok := l.chars[device.NormalizeUUID(charUUID)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, device.NewError(device.KindInvalidRequest, "characteristic %s not found on %s", charUUID, id)
	}
	return c, nil
}

func (a *Adapter) WriteCharacteristic(id, charUUID, hexPayload string, withResponse bool) error {
	data, err := device.DecodeHex(hexPayload)
	if err != nil {
		return err
	}
	c, err := a.lookup(id, charUUID)
	if err != nil {
		return err
	}

	a.group.Go("tinygo-write", func(context.Context) {
		if !withResponse {
			if _, err := c.WriteWithoutResponse(data); err != nil {
				a.logger.WithFields(logrus.Fields{"device": id, "char": charUUID, "error": err}).Error("Write without response failed")
			}
			return
		}
		if _, err := c.Write(data); err != nil {
			a.deliver(native.WriteFailed(id, charUUID, device.NormalizeError(err).Error()))
			return
		}
		a.deliver(native.Written(id, charUUID))
	})
	return nil
}

func (a *Adapter) Subscribe(id, charUUID string) error {
	c, err := a.lookup(id, charUUID)
	if err != nil {
		return err
	}
	a.group.Go("tinygo-subscribe", func(context.Context) {
		err := c.EnableNotifications(func(buf []byte) {
			a.deliver(native.Value(id, charUUID, device.EncodeHex(buf)))
		})
		if err != nil {
			a.deliver(native.NotifyState(id, charUUID, false, device.NormalizeError(err).Error()))
			return
		}
		a.deliver(native.NotifyState(id, charUUID, true, ""))
	})
	return nil
}

// Unsubscribe disables notifications by registering a nil callback
func (a *Adapter) Unsubscribe(id, charUUID string) error {
	c, err := a.lookup(id, charUUID)
	if err != nil {
		return err
	}
	a.group.Go("tinygo-unsubscribe", func(context.Context) {
		if err := c.EnableNotifications(nil); err != nil {
			a.deliver(native.NotifyState(id, charUUID, true, device.NormalizeError(err).Error()))
			return
		}
		a.deliver(native.NotifyState(id, charUUID, false, ""))
	})
	return nil
}

func (a *Adapter) IsBluetoothEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Adapter) IsDeviceConnected(id string) bool {
	_, ok := a.links.Get(id)
	return ok
}

func (a *Adapter) DiscoveredDeviceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.discovered)
}

func (a *Adapter) DiscoveredDeviceAt(index int) (*device.Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.discovered) {
		return nil, false
	}
	return a.discovered[index].Clone(), true
}

// tinygo does not expose characteristic properties on every platform, so
// descriptors carry no capabilities.
func (a *Adapter) characteristics(id, serviceUUID string) []device.Characteristic {
	out := []device.Characteristic{}
	l, ok := a.links.Get(id)
	if !ok {
		return out
	}
	for uuid, svc := range l.owner {
		if serviceUUID != "" && svc != serviceUUID {
			continue
		}
		out = append(out, device.Characteristic{ServiceUUID: svc, UUID: uuid})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceUUID != out[j].ServiceUUID {
			return out[i].ServiceUUID < out[j].ServiceUUID
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

func (a *Adapter) DeviceCharacteristics(id string) ([]device.Characteristic, error) {
	return a.characteristics(id, ""), nil
}

func (a *Adapter) ServiceCharacteristics(id, serviceUUID string) ([]device.Characteristic, error) {
	return a.characteristics(id, device.NormalizeUUID(serviceUUID)), nil
}

func (a *Adapter) DeviceServices(id string) ([]device.Service, error) {
	out := []device.Service{}
	l, ok := a.links.Get(id)
	if !ok {
		return out, nil
	}
	counts := make(map[string]int)
	for _, svc := range l.owner {
		counts[svc]++
	}
	for _, svc := range l.services {
		out = append(out, device.Service{UUID: svc, CharacteristicCount: counts[svc]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (a *Adapter) Close() error {
	_ = a.StopScan()
	a.links.Range(func(id string, l *link) bool {
		if err := l.dev.Disconnect(); err != nil {
			a.logger.WithFields(logrus.Fields{"device": id, "error": err}).Debug("Disconnect on close")
		}
		return true
	})
	a.mu.Lock()
	a.sink = nil
	a.mu.Unlock()
	a.group.Stop()
	return nil
}
