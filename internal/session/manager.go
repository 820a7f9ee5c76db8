// Package session is the BLE central-role session core.
//
// A Manager reconciles asynchronous native callbacks into a consistent model of
// discovered devices, connection states and in-flight GATT operations, and publishes
// the result to subscribers. All state is owned by one serial queue goroutine: native
// events and application commands are both marshalled onto it, so they interleave
// deterministically. Commands validate on the queue and return as soon as the request is
// accepted or rejected; outcomes arrive later as events.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

// ErrClosed is returned by commands issued after Close
var ErrClosed = &device.Error{Kind: device.KindCancelled, Msg: "session closed"}

// Manager owns one BLE central session on top of a native adapter
type Manager struct {
	opts    Options
	logger  *logrus.Logger
	adapter native.Adapter

	registry   *device.Registry
	states     *stateTable
	correlator *Correlator
	dispatcher *Dispatcher

	queue    chan func()
	affinity groutine.Affinity
	group    *groutine.Group

	mu      sync.RWMutex // guards started/closed against queue sends
	started bool
	closed  bool

	scanning atomic.Bool
	enabled  atomic.Bool

	// owned by the serial queue
	deferred        []native.Event
	characteristics map[string][]device.Characteristic
	services        map[string][]device.Service
	subscribed      map[string]map[string]bool
	watchers        map[uint64]func()
	nextWatcher     uint64
}

// New creates a manager over adapter. Call Start before issuing commands.
func New(adapter native.Adapter, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:            opts,
		logger:          opts.Logger,
		adapter:         adapter,
		registry:        device.NewRegistry(),
		states:          newStateTable(),
		correlator:      NewCorrelator(opts.OperationTimeout, opts.Clock),
		dispatcher:      NewDispatcher(opts.Logger),
		queue:           make(chan func(), opts.QueueSize),
		characteristics: make(map[string][]device.Characteristic),
		services:        make(map[string][]device.Service),
		subscribed:      make(map[string]map[string]bool),
		watchers:        make(map[uint64]func()),
	}
}

// Start binds the adapter, starts the serial queue and the timeout sweeper, and
// initializes the adapter. The outcome of initialization arrives as a state-changed event.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return device.NewError(device.KindInvalidRequest, "session already started")
	}
	m.started = true
	m.group = groutine.NewGroup(context.Background())
	m.mu.Unlock()

	m.adapter.Bind(native.SinkFunc(m.Deliver))
	m.group.Go("session-queue", m.run)
	m.group.Go("session-sweeper", m.sweepLoop)

	return m.call(ctx, func() error {
		if err := m.adapter.Initialize(); err != nil {
			err = device.NormalizeError(err)
			m.logger.WithField("error", err).Error("Bluetooth adapter initialization failed")
			m.enabled.Store(false)
			m.dispatcher.Publish(BluetoothStateEvent{Meta: meta(""), Enabled: false, Err: err})
		}
		return nil
	})
}

// Close cancels every pending operation, drains the queue and releases the adapter.
// It must not be called from an event handler.
func (m *Manager) Close() error {
	if m.affinity.Held() {
		return device.NewError(device.KindInvalidRequest, "Close called from an event handler")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	if started {
		// no sender can be active: they all hold the read lock while sending
		m.queue <- m.shutdown
		close(m.queue)
	}
	m.mu.Unlock()

	if started {
		m.group.Stop()
	}
	return m.adapter.Close()
}

// Deliver implements native.Sink. Events delivered from the queue goroutine itself, for
// example by an adapter calling back synchronously from a command, are processed right
// after the current queue item.
func (m *Manager) Deliver(ev native.Event) {
	if m.affinity.Held() {
		m.deferred = append(m.deferred, ev)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed || !m.started {
		m.logger.WithFields(logrus.Fields{
			"event":  ev.Kind.String(),
			"device": ev.DeviceID,
		}).Debug("Dropping native event outside session lifetime")
		return
	}
	m.queue <- func() { m.handleNative(ev) }
}

// Subscribe registers h for one event category and returns a function removing it
func (m *Manager) Subscribe(c Category, h Handler) func() {
	return m.dispatcher.Subscribe(c, h)
}

// SubscribeAll registers h for every event category
func (m *Manager) SubscribeAll(h Handler) func() {
	return m.dispatcher.SubscribeAll(h)
}

// WatchDiscoveries returns a lossy stream of discovery events for consumers that cannot
// keep up with the queue. The stream is closed by stop or by Close.
func (m *Manager) WatchDiscoveries(ctx context.Context, capacity int) (*RingChannel[DeviceDiscoveredEvent], func(), error) {
	rc := NewRingChannel[DeviceDiscoveredEvent](capacity)

	var id uint64
	err := m.call(ctx, func() error {
		m.nextWatcher++
		id = m.nextWatcher
		unsubscribe := m.dispatcher.Subscribe(CategoryDeviceDiscovered, Handle(func(ev DeviceDiscoveredEvent) {
			if rc.ForceSend(ev) {
				m.logger.WithField("device", ev.ID).Debug("Discovery watcher overflow, dropped oldest")
			}
		}))
		m.watchers[id] = func() {
			unsubscribe()
			rc.close()
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = m.call(context.Background(), func() error {
				m.stopWatcher(id)
				return nil
			})
		})
	}
	return rc, stop, nil
}

func (m *Manager) stopWatcher(id uint64) {
	if stop, ok := m.watchers[id]; ok {
		delete(m.watchers, id)
		stop()
	}
}

// run is the serial queue
func (m *Manager) run(_ context.Context) {
	m.affinity.Claim()
	defer m.affinity.Release()

	m.logger.Debug("Session queue started")
	for fn := range m.queue {
		m.exec(fn)
	}
	m.logger.Debug("Session queue stopped")
}

func (m *Manager) exec(fn func()) {
	fn()
	for len(m.deferred) > 0 {
		ev := m.deferred[0]
		m.deferred = m.deferred[1:]
		m.handleNative(ev)
	}
}

// sweepLoop periodically enqueues a timeout sweep; the sweep itself runs on the queue so
// a late response and its timeout are ordered by arrival.
func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.enqueue(ctx, m.sweep); err != nil {
				return
			}
		}
	}
}

func (m *Manager) sweep() {
	for _, op := range m.correlator.Expire() {
		m.logger.WithFields(logrus.Fields{
			"device":  op.Key.DeviceID,
			"char":    op.Key.CharUUID,
			"kind":    op.Key.Kind.String(),
			"timeout": m.opts.OperationTimeout,
		}).Warn("Pending operation timed out")
		m.publishOutcome(op, device.NewError(device.KindTimeout,
			"no response to %s within %s", op.Key.Kind, m.opts.OperationTimeout))
	}
}

func (m *Manager) shutdown() {
	for _, op := range m.correlator.CancelAll() {
		m.publishOutcome(op, &device.Error{Kind: device.KindCancelled, Msg: "session closed"})
	}
	for id := range m.watchers {
		m.stopWatcher(id)
	}
}

// enqueue hands fn to the serial queue, blocking while the queue is full
func (m *Manager) enqueue(ctx context.Context, fn func()) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if !m.started {
		return device.NewError(device.KindInvalidRequest, "session not started")
	}
	select {
	case m.queue <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the serial queue and returns its result. Called from the queue itself
// (an event handler issuing a command) it runs fn inline.
func (m *Manager) call(ctx context.Context, fn func() error) error {
	if m.affinity.Held() {
		return fn()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := make(chan error, 1)
	if err := m.enqueue(ctx, func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
