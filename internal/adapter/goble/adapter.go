// Package goble is the hardware backend built on github.com/go-ble/ble
// (CoreBluetooth on macOS, HCI sockets on Linux).
//
// Every blocking go-ble call runs on its own named goroutine and reports back through
// the bound sink, so the session's serial queue never waits on the radio.
package goble

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

// DeviceFactory creates the go-ble device (can be overridden in tests)
var DeviceFactory = defaultDevice

// Options configures the go-ble backend
type Options struct {
	ConnectTimeout time.Duration `default:"10s"`
	Logger         *logrus.Logger
}

// Adapter implements native.Adapter on go-ble
type Adapter struct {
	opts   Options
	logger *logrus.Logger
	group  *groutine.Group
	links  *hashmap.Map[string, *link]

	mu         sync.Mutex
	sink       native.Sink
	dev        ble.Device
	scanCancel context.CancelFunc
	discovered []*device.Record
	seen       map[string]int
}

var _ native.Adapter = (*Adapter)(nil)

// New creates a go-ble backend; the radio is opened by Initialize
func New(opts Options) *Adapter {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Adapter{
		opts:   opts,
		logger: opts.Logger,
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

// Initialize opens the platform device
func (a *Adapter) Initialize() error {
	a.mu.Lock()
	if a.dev != nil {
		a.mu.Unlock()
		return nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		a.mu.Unlock()
		return wrap(err, "create BLE device")
	}
	a.dev = dev
	a.mu.Unlock()

	a.logger.Info("go-ble device initialized")
	a.group.Go("goble-state", func(context.Context) { a.deliver(native.StateChanged(true)) })
	return nil
}

// RequestPermissions is implicit on both go-ble platforms: the OS prompts on first radio use.
func (a *Adapter) RequestPermissions() error {
	a.group.Go("goble-permissions", func(context.Context) { a.deliver(native.Permission(true)) })
	return nil
}

func (a *Adapter) radio() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, device.NewError(device.KindAdapter, "bluetooth adapter not initialized")
	}
	return a.dev, nil
}

// StartScan scans until StopScan or Close
func (a *Adapter) StartScan() error {
	dev, err := a.radio()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.scanCancel = cancel
	a.discovered = nil
	a.seen = make(map[string]int)
	a.mu.Unlock()

	a.group.Go("goble-scan", func(groupCtx context.Context) {
		stop := context.AfterFunc(groupCtx, cancel)
		defer stop()

		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			rec := recordFromAdvertisement(adv)
			a.remember(rec)
			a.deliver(native.Discovered(rec))
		})
		if err != nil && ctx.Err() == nil {
			a.logger.WithField("error", NormalizeError(err)).Error("Scan stopped unexpectedly")
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
	defer a.mu.Unlock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	return nil
}

// Connect dials the peripheral and discovers its profile before reporting the connection
func (a *Adapter) Connect(id string) error {
	dev, err := a.radio()
	if err != nil {
		return err
	}
	if _, ok := a.links.Get(id); ok {
		a.group.Go("goble-connect", func(context.Context) { a.deliver(native.Connected(id)) })
		return nil
	}

	a.group.Go("goble-connect", func(groupCtx context.Context) {
		log := a.logger.WithFields(logrus.Fields{"device": id, "timeout": a.opts.ConnectTimeout})
		ctx, cancel := context.WithTimeout(groupCtx, a.opts.ConnectTimeout)
		defer cancel()

		log.Debug("Dialing BLE device...")
		client, err := dev.Dial(ctx, ble.NewAddr(id))
		if err != nil {
			err = wrap(err, "dial %s", id)
			log.WithField("error", err).Error("Failed to dial BLE device")
			a.deliver(native.Failed(id, err.Error()))
			return
		}

		profile, err := client.DiscoverProfile(true)
		if err != nil {
			err = wrap(err, "discover profile")
			log.WithField("error", err).Error("Failed to discover profile")
			if cancelErr := client.CancelConnection(); cancelErr != nil {
				log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after discovery failure")
			}
			a.deliver(native.Failed(id, err.Error()))
			return
		}

		l := newLink(client, profile)
		a.links.Set(id, l)
		a.monitor(id, l)

		log.WithFields(logrus.Fields{
			"services":        len(l.services),
			"characteristics": len(l.chars),
		}).Info("BLE device connected")
		a.deliver(native.Connected(id))
	})
	return nil
}

// monitor reports link loss when the client exposes a disconnection channel
func (a *Adapter) monitor(id string, l *link) {
	watcher, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		a.logger.WithField("device", id).Debug("Client does not report disconnections")
		return
	}
	a.group.Go("goble-link-monitor", func(ctx context.Context) {
		select {
		case <-watcher.Disconnected():
			a.closeLink(id, l)
		case <-ctx.Done():
		}
	})
}

// closeLink forgets l and reports the disconnection once
func (a *Adapter) closeLink(id string, l *link) {
	if !l.close() {
		return
	}
	if current, ok := a.links.Get(id); ok && current == l {
		a.links.Del(id)
	}
	a.deliver(native.Disconnected(id))
}

func (a *Adapter) Disconnect(id string) error {
	l, ok := a.links.Get(id)
	if !ok {
		return device.NewError(device.KindNotConnected, "device not connected")
	}

	a.group.Go("goble-disconnect", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			a.logger.WithFields(logrus.Fields{"device": id, "error": NormalizeError(err)}).
				Warn("BLE device disconnected with errors")
		}
		a.closeLink(id, l)
	})
	return nil
}

func (a *Adapter) WriteCharacteristic(id, charUUID, hexPayload string, withResponse bool) error {
	data, err := device.DecodeHex(hexPayload)
	if err != nil {
		return err
	}
	l, c, err := a.lookup(id, charUUID)
	if err != nil {
		return err
	}

	a.group.Go("goble-write", func(context.Context) {
		l.writeMu.Lock()
		err := l.client.WriteCharacteristic(c, data, !withResponse)
		l.writeMu.Unlock()

		if !withResponse {
			if err != nil {
				a.logger.WithFields(logrus.Fields{"device": id, "char": charUUID, "error": NormalizeError(err)}).
					Error("Write without response failed")
			}
			return
		}
		if err != nil {
			a.deliver(native.WriteFailed(id, charUUID, NormalizeError(err).Error()))
			return
		}
		a.deliver(native.Written(id, charUUID))
	})
	return nil
}

func (a *Adapter) Subscribe(id, charUUID string) error {
	l, c, err := a.lookup(id, charUUID)
	if err != nil {
		return err
	}
	if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return device.NewError(device.KindInvalidRequest, "characteristic %s does not support notifications", charUUID)
	}
	indicate := c.Property&ble.CharNotify == 0

	a.group.Go("goble-subscribe", func(context.Context) {
		err := l.client.Subscribe(c, indicate, func(data []byte) {
			a.deliver(native.Value(id, charUUID, device.EncodeHex(data)))
		})
		if err != nil {
			a.deliver(native.NotifyState(id, charUUID, false, NormalizeError(err).Error()))
			return
		}
		a.deliver(native.NotifyState(id, charUUID, true, ""))
	})
	return nil
}

func (a *Adapter) Unsubscribe(id, charUUID string) error {
	l, c, err := a.lookup(id, charUUID)
	if err != nil {
		return err
	}
	indicate := c.Property&ble.CharNotify == 0

	a.group.Go("goble-unsubscribe", func(context.Context) {
		if err := l.client.Unsubscribe(c, indicate); err != nil {
			a.deliver(native.NotifyState(id, charUUID, true, NormalizeError(err).Error()))
			return
		}
		a.deliver(native.NotifyState(id, charUUID, false, ""))
	})
	return nil
}

func (a *Adapter) lookup(id, charUUID string) (*link, *ble.Characteristic, error) {
	l, ok := a.links.Get(id)
	if !ok {
		return nil, nil, device.NewError(device.KindNotConnected, "device not connected")
	}
	c, ok := l.chars[device.NormalizeUUID(charUUID)]
	if !ok {
		return nil, nil, device.NewError(device.KindInvalidRequest, "characteristic %s not found on %s", charUUID, id)
	}
	return l, c, nil
}

func (a *Adapter) IsBluetoothEnabled() bool {
	_, err := a.radio()
	return err == nil
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

func (a *Adapter) DeviceCharacteristics(id string) ([]device.Characteristic, error) {
	l, ok := a.links.Get(id)
	if !ok {
		return []device.Characteristic{}, nil
	}
	return l.characteristics(""), nil
}

func (a *Adapter) ServiceCharacteristics(id, serviceUUID string) ([]device.Characteristic, error) {
	l, ok := a.links.Get(id)
	if !ok {
		return []device.Characteristic{}, nil
	}
	return l.characteristics(device.NormalizeUUID(serviceUUID)), nil
}

func (a *Adapter) DeviceServices(id string) ([]device.Service, error) {
	l, ok := a.links.Get(id)
	if !ok {
		return []device.Service{}, nil
	}
	out := make([]device.Service, 0, len(l.services))
	for _, s := range l.services {
		out = append(out, device.Service{UUID: s.uuid, CharacteristicCount: len(s.chars)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

// Close cancels every connection and stops the radio
func (a *Adapter) Close() error {
	_ = a.StopScan()

	var ids []string
	a.links.Range(func(id string, _ *link) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if l, ok := a.links.Get(id); ok {
			if err := l.client.CancelConnection(); err != nil {
				a.logger.WithFields(logrus.Fields{"device": id, "error": err}).Debug("Cancel connection on close")
			}
			l.close()
			a.links.Del(id)
		}
	}

	a.mu.Lock()
	dev := a.dev
	a.dev = nil
	a.sink = nil
	a.mu.Unlock()

	a.group.Stop()
	if dev != nil {
		if err := dev.Stop(); err != nil {
			return errors.Wrap(err, "stop BLE device")
		}
	}
	return nil
}
