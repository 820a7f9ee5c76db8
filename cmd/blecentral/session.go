package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
	"github.com/srg/blecentral/pkg/config"
)

// readyTimeout bounds the wait for the backend's first power-state report
const readyTimeout = 5 * time.Second

// cliSession is a started manager plus what the commands need around it
type cliSession struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *session.Manager
}

// openSession starts a manager on the configured backend and waits until the radio is on
func openSession(cmd *cobra.Command) (*cliSession, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := session.New(adapter, cfg.SessionOptions(logger))
	states, stop := watch(m, "", session.CategoryStateChanged)
	defer stop()

	ctx := cmd.Context()
	if err := m.Start(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}

	s := &cliSession{cfg: cfg, logger: logger, manager: m}
	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	select {
	case ev := <-states:
		state := ev.(session.BluetoothStateEvent)
		if state.Err != nil {
			_ = s.Close()
			return nil, state.Err
		}
		if !state.Enabled {
			_ = s.Close()
			return nil, ErrBluetoothUnavailable
		}
	case <-timer.C:
		_ = s.Close()
		return nil, device.NewError(device.KindTimeout, "backend %s did not report its state", cfg.Backend)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}

	logger.WithField("backend", cfg.Backend).Debug("Session ready")
	return s, nil
}

func (s *cliSession) Close() error {
	return s.manager.Close()
}

// watch forwards events of the given categories to a buffered channel. An empty
// deviceID matches every device. Events are dropped when the reader falls behind,
// since handlers run on the session queue and must not block.
func watch(m *session.Manager, deviceID string, categories ...session.Category) (<-chan session.Event, func()) {
	ch := make(chan session.Event, 64)
	unsubs := make([]func(), 0, len(categories))
	for _, c := range categories {
		unsubs = append(unsubs, m.Subscribe(c, func(ev session.Event) {
			if deviceID != "" && ev.DeviceID() != deviceID {
				return
			}
			select {
			case ch <- ev:
			default:
			}
		}))
	}
	return ch, func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// connect opens a connection to id and waits for its outcome
func (s *cliSession) connect(ctx context.Context, id string, timeout time.Duration) error {
	events, stop := watch(s.manager, id, session.CategoryConnected, session.CategoryConnectionFailed)
	defer stop()

	if err := s.manager.Connect(ctx, id); err != nil {
		return err
	}
	if s.manager.IsDeviceConnected(id) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case ev := <-events:
		if failed, ok := ev.(session.ConnectionFailedEvent); ok {
			if failed.Err != nil {
				return failed.Err
			}
			return device.AdapterError(failed.Reason)
		}
		return nil
	case <-ctx.Done():
		// Abandon the attempt so the manager does not keep a half-open link
		_ = s.manager.Disconnect(context.Background(), id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return device.NewError(device.KindTimeout, "connecting to %s took longer than %s", id, timeout)
		}
		return ctx.Err()
	}
}

// disconnect closes the connection to id and waits until the manager reports it closed
func (s *cliSession) disconnect(ctx context.Context, id string) {
	events, stop := watch(s.manager, id, session.CategoryDisconnected)
	defer stop()

	if err := s.manager.Disconnect(ctx, id); err != nil {
		s.logger.WithFields(logrus.Fields{"device": id, "error": err}).Warn("Disconnect failed")
		return
	}
	if s.manager.State(id) == session.Disconnected {
		return
	}

	select {
	case <-events:
	case <-time.After(s.cfg.OperationTimeout):
		s.logger.WithField("device", id).Warn("Timed out waiting for disconnection")
	}
}
