package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
)

type writeOptions struct {
	hex             bool
	withoutResponse bool
	timeout         time.Duration
}

func newWriteCmd() *cobra.Command {
	opts := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <device-address> <uuid> <data>",
		Short: "Write to a characteristic",
		Long: `Connects to a device and writes data to a characteristic.

Examples:
  # Write a string
  blecentral write simulated-device-001 2a39 "reset"

  # Write hex data
  blecentral write simulated-device-001 2a39 01 --hex

  # Write without response (faster, no ACK)
  blecentral write vernier-gdx-tmp-001 f4bf14a6-c7d5-4b6d-8aa8-df1a7c83adcb 5501 --hex --without-response`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args[0], args[1], args[2], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	cmd.Flags().BoolVar(&opts.withoutResponse, "without-response", false, "Write without response (faster, no ACK)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Connection timeout")
	return cmd
}

func runWrite(cmd *cobra.Command, address, charUUID, dataStr string, opts *writeOptions) error {
	data, err := parseWriteData(dataStr, opts.hex)
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.connect(ctx, address, opts.timeout); err != nil {
		return err
	}
	defer s.disconnect(ctx, address)

	mode := session.WithResponse
	if opts.withoutResponse {
		mode = session.WithoutResponse
	}

	events, stop := watch(s.manager, address,
		session.CategoryWriteSuccess, session.CategoryWriteError, session.CategoryDisconnected)
	defer stop()

	if err := s.manager.SubmitWrite(ctx, address, charUUID, data, mode); err != nil {
		return err
	}

	if err := awaitWrite(ctx, events); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s (%s)\n", len(data), charUUID, mode)
	return nil
}

// awaitWrite waits for the outcome of the one write in flight. The manager's
// operation timeout guarantees an outcome arrives.
func awaitWrite(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case session.WriteSuccessEvent:
				if !e.Unsolicited {
					return nil
				}
			case session.WriteErrorEvent:
				if !e.Unsolicited {
					return e.Err
				}
			case session.DisconnectedEvent:
				return ErrConnectionLost
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseWriteData converts input string to bytes
func parseWriteData(dataStr string, isHex bool) ([]byte, error) {
	if !isHex {
		return []byte(dataStr), nil
	}

	// Remove spaces and common separators
	cleaned := strings.ReplaceAll(dataStr, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(strings.ToLower(cleaned), "0x", "")

	data, err := device.DecodeHex(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
