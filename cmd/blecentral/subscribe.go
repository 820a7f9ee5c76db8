package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/session"
)

type subscribeOptions struct {
	duration time.Duration
	count    int
	timeout  time.Duration
}

func newSubscribeCmd() *cobra.Command {
	opts := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe <device-address> <uuid>",
		Short: "Print characteristic notifications",
		Long: `Connects to a device, subscribes to a characteristic and prints every
notification until the duration elapses, the count is reached or Ctrl+C.

Examples:
  # Print five battery level notifications
  blecentral subscribe simulated-device-001 2a19 --count 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args[0], args[1], opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Stop after this many notifications (0 for unlimited)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Connection timeout")
	return cmd
}

func runSubscribe(cmd *cobra.Command, address, charUUID string, opts *subscribeOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if err := s.connect(ctx, address, opts.timeout); err != nil {
		return err
	}
	defer s.disconnect(context.Background(), address)

	events, stop := watch(s.manager, address,
		session.CategorySubscription, session.CategoryCharacteristicValue,
		session.CategoryConnectionState, session.CategoryDisconnected)
	defer stop()

	if err := s.manager.SubmitSubscribe(ctx, address, charUUID); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	received := 0
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case session.SubscriptionEvent:
				if e.Err != nil {
					return e.Err
				}
				if e.Subscribed {
					fmt.Fprintf(out, "Subscribed to %s\n", charUUID)
				}
			case session.CharacteristicValueEvent:
				fmt.Fprintln(out, formatValue(e))
				received++
				if opts.count > 0 && received >= opts.count {
					return unsubscribe(s, address, charUUID)
				}
			case session.ConnectionStateEvent:
				s.logger.Debug(formatStateChange(e))
			case session.DisconnectedEvent:
				return ErrConnectionLost
			}
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return unsubscribe(s, address, charUUID)
			}
			return ctx.Err()
		}
	}
}

func unsubscribe(s *cliSession, address, charUUID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	defer cancel()
	return s.manager.SubmitUnsubscribe(ctx, address, charUUID)
}
