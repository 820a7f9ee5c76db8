// Package sim is a simulated BLE stack.
//
// The simulator answers every command the way a platform stack does: asynchronously,
// through serialized callbacks decoded by a native.Bridge. It ships with a fixed set of
// peripherals and supports scripted failures, which makes it the backend of choice for
// demos, CLI tests and hardware-free development.
package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

// Options tunes the simulated timing
type Options struct {
	// DiscoveryInterval separates consecutive advertisements during a scan
	DiscoveryInterval time.Duration `default:"300ms"`

	// ConnectDelay is how long a connection takes to establish
	ConnectDelay time.Duration `default:"150ms"`

	// ResponseDelay is the latency of write and subscription acknowledgements
	ResponseDelay time.Duration `default:"25ms"`

	// NotifyInterval is the period of notifications on subscribed characteristics
	NotifyInterval time.Duration `default:"1s"`

	Logger      *logrus.Logger
	Peripherals []Peripheral
}

type subKey struct {
	id   string
	char string
}

// Adapter implements native.Adapter over simulated peripherals
type Adapter struct {
	opts   Options
	logger *logrus.Logger
	closed atomic.Bool

	mu          sync.Mutex
	bridge      *native.Bridge
	group       *groutine.Group
	enabled     bool
	peripherals map[string]*Peripheral
	order       []string
	discovered  []string
	connected   map[string]bool
	values      map[subKey][]byte
	notifying   map[subKey]context.CancelFunc
	stopScan    context.CancelFunc

	// scripted behaviour
	connectFailures map[string]string
	writeFailures   map[subKey]string
	silent          bool
}

var _ native.Adapter = (*Adapter)(nil)

// New creates a simulator. Zero option fields take their defaults.
func New(opts Options) *Adapter {
	d := Options{}
	defaults.SetDefaults(&d)
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = d.DiscoveryInterval
	}
	if opts.ConnectDelay <= 0 {
		opts.ConnectDelay = d.ConnectDelay
	}
	if opts.ResponseDelay <= 0 {
		opts.ResponseDelay = d.ResponseDelay
	}
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = d.NotifyInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Peripherals == nil {
		opts.Peripherals = DefaultPeripherals()
	}

	a := &Adapter{
		opts:            opts,
		logger:          opts.Logger,
		group:           groutine.NewGroup(context.Background()),
		enabled:         true,
		peripherals:     make(map[string]*Peripheral),
		connected:       make(map[string]bool),
		values:          make(map[subKey][]byte),
		notifying:       make(map[subKey]context.CancelFunc),
		connectFailures: make(map[string]string),
		writeFailures:   make(map[subKey]string),
	}
	for i := range opts.Peripherals {
		p := &opts.Peripherals[i]
		a.peripherals[p.Advertisement.ID] = p
		a.order = append(a.order, p.Advertisement.ID)
		for _, c := range p.Characteristics {
			a.values[subKey{p.Advertisement.ID, device.NormalizeUUID(c.UUID)}] = c.Value
		}
	}
	return a
}

// Bind implements native.Adapter
func (a *Adapter) Bind(sink native.Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bridge = native.NewBridge(sink, a.logger)
}

// Close stops every simulated activity. No callbacks are delivered afterwards.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = a.StopScan()
	a.group.Stop()
	return nil
}

// SetEnabled simulates the radio being switched on or off
func (a *Adapter) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	var dropped []string
	if !enabled {
		for id := range a.connected {
			dropped = append(dropped, id)
			a.dropLocked(id)
		}
	}
	a.mu.Unlock()

	a.later("sim-power", 0, func() {
		a.emit(native.StateChanged(enabled))
		for _, id := range dropped {
			a.emit(native.Disconnected(id))
		}
	})
}

// FailNextConnect makes the next connection attempt to id fail with message
func (a *Adapter) FailNextConnect(id, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectFailures[id] = message
}

// FailWrites makes every acknowledged write to the characteristic fail with message.
// An empty message clears the failure.
func (a *Adapter) FailWrites(id, charUUID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := subKey{id, device.NormalizeUUID(charUUID)}
	if message == "" {
		delete(a.writeFailures, key)
		return
	}
	a.writeFailures[key] = message
}

// Silence stops acknowledging writes and subscription changes, as a stalled peripheral would
func (a *Adapter) Silence(silent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.silent = silent
}

// LoseConnection simulates the peripheral going out of range
func (a *Adapter) LoseConnection(id string) {
	a.mu.Lock()
	wasConnected := a.connected[id]
	a.dropLocked(id)
	a.mu.Unlock()

	if wasConnected {
		a.later("sim-link-loss", 0, func() { a.emit(native.Disconnected(id)) })
	}
}

// Initialize implements native.Adapter
func (a *Adapter) Initialize() error {
	a.mu.Lock()
	enabled := a.enabled
	a.mu.Unlock()

	a.logger.WithField("peripherals", len(a.order)).Debug("Simulated Bluetooth stack initialized")
	a.later("sim-init", 0, func() { a.emit(native.StateChanged(enabled)) })
	return nil
}

// RequestPermissions implements native.Adapter; the simulator always grants
func (a *Adapter) RequestPermissions() error {
	a.later("sim-permissions", 0, func() { a.emit(native.Permission(true)) })
	return nil
}

// StartScan advertises every peripheral once, one DiscoveryInterval apart
func (a *Adapter) StartScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return device.NewError(device.KindAdapter, "bluetooth is turned off")
	}
	if a.closed.Load() {
		return device.NewError(device.KindAdapter, "adapter closed")
	}
	if a.stopScan != nil {
		a.stopScan()
	}
	a.discovered = nil

	ctx, cancel := context.WithCancel(context.Background())
	a.stopScan = cancel
	order := append([]string(nil), a.order...)

	a.group.Go("sim-scan", func(groupCtx context.Context) {
		defer cancel()
		for _, id := range order {
			select {
			case <-ctx.Done():
				return
			case <-groupCtx.Done():
				return
			case <-time.After(a.opts.DiscoveryInterval):
			}

			a.mu.Lock()
			p := a.peripherals[id]
			adv := p.Advertisement
			adv.ServiceUUIDs = append([]string(nil), adv.ServiceUUIDs...)
			adv.LastSeen = time.Now()
			a.discovered = append(a.discovered, id)
			a.mu.Unlock()

			a.logger.WithFields(logrus.Fields{"device": id, "name": adv.Name}).Debug("Simulated advertisement")
			a.emit(native.Discovered(&adv))
		}
	})
	return nil
}

// StopScan implements native.Adapter
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopScan != nil {
		a.stopScan()
		a.stopScan = nil
	}
	return nil
}

// Connect implements native.Adapter. Unknown ids fail asynchronously like a real stack.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return device.NewError(device.KindAdapter, "bluetooth is turned off")
	}

	_, known := a.peripherals[id]
	failure, scripted := a.connectFailures[id]
	delete(a.connectFailures, id)

	a.later("sim-connect", a.opts.ConnectDelay, func() {
		switch {
		case !known:
			a.emit(native.Failed(id, "Device not found"))
		case scripted:
			a.emit(native.Failed(id, failure))
		default:
			a.mu.Lock()
			a.connected[id] = true
			a.mu.Unlock()
			a.emit(native.Connected(id))
		}
	})
	return nil
}

// Disconnect implements native.Adapter
func (a *Adapter) Disconnect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected[id] {
		return device.NewError(device.KindNotConnected, "device not connected")
	}
	a.dropLocked(id)
	a.later("sim-disconnect", a.opts.ResponseDelay, func() { a.emit(native.Disconnected(id)) })
	return nil
}

// WriteCharacteristic implements native.Adapter
func (a *Adapter) WriteCharacteristic(id, charUUID, hexPayload string, withResponse bool) error {
	data, err := device.DecodeHex(hexPayload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected[id] {
		return device.NewError(device.KindNotConnected, "device not connected")
	}
	key := subKey{id, device.NormalizeUUID(charUUID)}
	char, ok := a.characteristicLocked(key)

	var failure string
	switch {
	case !ok:
		failure = "Characteristic not found"
	case !hasCapability(char, "write") && !hasCapability(char, "writeWithoutResponse"):
		failure = "Write not permitted"
	default:
		failure = a.writeFailures[key]
	}
	if failure == "" {
		a.values[key] = data
	}
	if !withResponse || a.silent {
		return nil
	}

	a.later("sim-write", a.opts.ResponseDelay, func() {
		if failure != "" {
			a.emit(native.WriteFailed(id, charUUID, failure))
			return
		}
		a.emit(native.Written(id, charUUID))
	})
	return nil
}

// Subscribe implements native.Adapter. Subscribed characteristics notify every
// NotifyInterval.
func (a *Adapter) Subscribe(id, charUUID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected[id] {
		return device.NewError(device.KindNotConnected, "device not connected")
	}
	key := subKey{id, device.NormalizeUUID(charUUID)}
	char, ok := a.characteristicLocked(key)

	var failure string
	switch {
	case !ok:
		failure = "Characteristic not found"
	case !hasCapability(char, "notify") && !hasCapability(char, "indicate"):
		failure = "Characteristic does not support notifications"
	}
	if a.silent {
		return nil
	}
	if failure != "" {
		a.later("sim-subscribe", a.opts.ResponseDelay, func() {
			a.emit(native.NotifyState(id, charUUID, false, failure))
		})
		return nil
	}

	if _, active := a.notifying[key]; !active {
		ctx, cancel := context.WithCancel(context.Background())
		a.notifying[key] = cancel
		a.group.Go("sim-notify", func(groupCtx context.Context) {
			a.notify(ctx, groupCtx, id, charUUID, char)
		})
	}
	a.later("sim-subscribe", a.opts.ResponseDelay, func() {
		a.emit(native.NotifyState(id, charUUID, true, ""))
	})
	return nil
}

// Unsubscribe implements native.Adapter
func (a *Adapter) Unsubscribe(id, charUUID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected[id] {
		return device.NewError(device.KindNotConnected, "device not connected")
	}
	key := subKey{id, device.NormalizeUUID(charUUID)}
	if cancel, ok := a.notifying[key]; ok {
		cancel()
		delete(a.notifying, key)
	}
	if a.silent {
		return nil
	}
	a.later("sim-unsubscribe", a.opts.ResponseDelay, func() {
		a.emit(native.NotifyState(id, charUUID, false, ""))
	})
	return nil
}

func (a *Adapter) notify(ctx, groupCtx context.Context, id, charUUID string, char Characteristic) {
	ticker := time.NewTicker(a.opts.NotifyInterval)
	defer ticker.Stop()

	key := subKey{id, device.NormalizeUUID(charUUID)}
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-groupCtx.Done():
			return
		case <-ticker.C:
		}

		a.mu.Lock()
		value := a.values[key]
		if char.Next != nil {
			value = char.Next(n)
			a.values[key] = value
		}
		a.mu.Unlock()

		a.emit(native.Value(id, charUUID, device.EncodeHex(value)))
	}
}

// IsBluetoothEnabled implements native.Adapter
func (a *Adapter) IsBluetoothEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// IsDeviceConnected implements native.Adapter
func (a *Adapter) IsDeviceConnected(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected[id]
}

// DiscoveredDeviceCount implements native.Adapter
func (a *Adapter) DiscoveredDeviceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.discovered)
}

// DiscoveredDeviceAt implements native.Adapter
func (a *Adapter) DiscoveredDeviceAt(index int) (*device.Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.discovered) {
		return nil, false
	}
	adv := a.peripherals[a.discovered[index]].Advertisement
	return adv.Clone(), true
}

// DeviceCharacteristics implements native.Adapter. Answers travel through the JSON query
// encoding like those of a platform stack.
func (a *Adapter) DeviceCharacteristics(id string) ([]device.Characteristic, error) {
	return a.queryCharacteristics(id, "")
}

// ServiceCharacteristics implements native.Adapter
func (a *Adapter) ServiceCharacteristics(id, serviceUUID string) ([]device.Characteristic, error) {
	return a.queryCharacteristics(id, device.NormalizeUUID(serviceUUID))
}

// DeviceServices implements native.Adapter
func (a *Adapter) DeviceServices(id string) ([]device.Service, error) {
	a.mu.Lock()
	p, ok := a.peripherals[id]
	connected := a.connected[id]
	a.mu.Unlock()

	if !ok || !connected {
		return []device.Service{}, nil
	}

	var services []device.Service
	index := make(map[string]int)
	for _, c := range p.Characteristics {
		svc := device.NormalizeUUID(c.ServiceUUID)
		i, seen := index[svc]
		if !seen {
			i = len(services)
			index[svc] = i
			services = append(services, device.Service{UUID: svc})
		}
		services[i].CharacteristicCount++
	}

	payload, err := native.EncodeServices(services)
	if err != nil {
		return nil, err
	}
	return native.DecodeServices(payload)
}

func (a *Adapter) queryCharacteristics(id, serviceUUID string) ([]device.Characteristic, error) {
	a.mu.Lock()
	p, ok := a.peripherals[id]
	connected := a.connected[id]
	var chars []device.Characteristic
	if ok && connected {
		for _, c := range p.Characteristics {
			svc := device.NormalizeUUID(c.ServiceUUID)
			if serviceUUID != "" && svc != serviceUUID {
				continue
			}
			capabilities, _ := device.ParseCapabilities(c.Capabilities)
			uuid := device.NormalizeUUID(c.UUID)
			_, notifying := a.notifying[subKey{id, uuid}]
			chars = append(chars, device.Characteristic{
				ServiceUUID:  svc,
				UUID:         uuid,
				Capabilities: capabilities,
				Subscribed:   notifying,
			})
		}
	}
	a.mu.Unlock()

	payload, err := native.EncodeCharacteristics(chars)
	if err != nil {
		return nil, err
	}
	return native.DecodeCharacteristics(payload)
}

func (a *Adapter) characteristicLocked(key subKey) (Characteristic, bool) {
	p, ok := a.peripherals[key.id]
	if !ok {
		return Characteristic{}, false
	}
	for _, c := range p.Characteristics {
		if device.NormalizeUUID(c.UUID) == key.char {
			return c, true
		}
	}
	return Characteristic{}, false
}

// dropLocked forgets the connection of id and stops its notifications
func (a *Adapter) dropLocked(id string) {
	delete(a.connected, id)
	for key, cancel := range a.notifying {
		if key.id == id {
			cancel()
			delete(a.notifying, key)
		}
	}
}

// later runs fn on a group goroutine after delay, unless the simulator closes first
func (a *Adapter) later(name string, delay time.Duration, fn func()) {
	if a.closed.Load() {
		return
	}
	a.group.Go(name, func(ctx context.Context) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		if ctx.Err() == nil {
			fn()
		}
	})
}

// emit serializes ev and feeds it through the bridge, as a platform callback would arrive
func (a *Adapter) emit(ev native.Event) {
	a.mu.Lock()
	bridge := a.bridge
	a.mu.Unlock()
	if bridge == nil || a.closed.Load() {
		return
	}

	method, payload, err := native.Encode(ev)
	if err != nil {
		a.logger.WithFields(logrus.Fields{"event": ev.Kind.String(), "error": err}).Error("Cannot encode simulated callback")
		return
	}
	_ = bridge.Receive(method, payload)
}

func hasCapability(c Characteristic, name string) bool {
	for _, n := range c.Capabilities {
		if n == name {
			return true
		}
	}
	return false
}
