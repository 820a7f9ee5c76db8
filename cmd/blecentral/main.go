package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree; every call returns fresh flag state
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blecentral",
		Short: "Bluetooth Low Energy central session manager",
		Long: `Drives a BLE central session: discovery, connection lifecycle, characteristic
writes and notification subscriptions, over a simulated or a hardware backend.

- Scan and list nearby BLE devices
- Connect and list GATT services and characteristics
- Write to characteristics with or without response
- Subscribe to characteristic notifications
- Print the session connection status`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	root.SilenceErrors = true

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("backend", "", "BLE backend (sim, goble, tinygo)")

	root.AddCommand(newScanCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newSubscribeCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
