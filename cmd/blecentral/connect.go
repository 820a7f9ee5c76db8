package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
)

type connectOptions struct {
	timeout time.Duration
}

func newConnectCmd() *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect <device-address>",
		Short: "Connect to a device and list its GATT profile",
		Long: `Connects to a BLE device, prints its services and characteristics with their
capabilities, then disconnects.

Examples:
  # List the profile of a simulated device
  blecentral connect simulated-device-001 --backend sim`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, args[0], opts)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Connection timeout")
	return cmd
}

func runConnect(cmd *cobra.Command, address string, opts *connectOptions) error {
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

	services, err := s.manager.Services(ctx, address)
	if err != nil {
		return err
	}
	chars, err := s.manager.Characteristics(ctx, address)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	name := address
	if rec, ok := s.manager.Device(address); ok {
		name = rec.DisplayName()
	}
	fmt.Fprintf(out, "Connected to %s (%s)\n", name, address)
	return displayProfile(out, services, chars)
}

func displayProfile(out io.Writer, services []device.Service, chars []device.Characteristic) error {
	if len(services) == 0 && len(chars) == 0 {
		fmt.Fprintln(out, "No services discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCHARACTERISTIC\tPROPERTIES")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, c := range chars {
		fmt.Fprintf(w, "%s\t%s\t%s\n", device.DisplayUUID(c.ServiceUUID), device.DisplayUUID(c.UUID), c.Capabilities)
	}
	for _, svc := range services {
		if svc.CharacteristicCount == 0 {
			fmt.Fprintf(w, "%s\t-\t-\n", device.DisplayUUID(svc.UUID))
		}
	}
	return w.Flush()
}
