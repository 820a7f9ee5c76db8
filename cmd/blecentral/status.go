package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type statusOptions struct {
	scan    time.Duration
	connect []string
	timeout time.Duration
}

func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the session connection status",
		Long: `Starts a session, optionally scans and connects, then prints the connection
status summary: adapter power, discovered and connected device counts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.scan, "scan", 0, "Scan for this long before reporting")
	cmd.Flags().StringSliceVar(&opts.connect, "connect", nil, "Connect to these devices before reporting")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Connection timeout")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *statusOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if opts.scan > 0 {
		scanCtx, cancel := context.WithTimeout(ctx, opts.scan)
		if err := s.manager.StartScan(scanCtx); err != nil {
			cancel()
			return err
		}
		<-scanCtx.Done()
		cancel()
		if err := s.manager.StopScan(ctx); err != nil {
			return err
		}
	}

	for _, id := range opts.connect {
		if err := s.connect(ctx, id, opts.timeout); err != nil {
			return fmt.Errorf("connect %s: %w", id, err)
		}
	}
	defer func() { _ = s.manager.DisconnectAll(context.Background()) }()

	fmt.Fprint(cmd.OutOrStdout(), s.manager.Status())
	return nil
}
