package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
)

type scanOptions struct {
	duration time.Duration
	format   string
	watch    bool
}

// scanEntry is the JSON shape of one discovered device
type scanEntry struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	RSSI             int      `json:"rssi"`
	Connectable      bool     `json:"connectable"`
	ServiceUUIDs     []string `json:"serviceUUIDs"`
	ManufacturerData string   `json:"manufacturerData,omitempty"`
	Vendor           string   `json:"vendor,omitempty"`
	TxPowerLevel     int      `json:"txPowerLevel"`
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

This command will scan for BLE devices and display information about
discovered devices, including their names, addresses, RSSI values, and
advertised services.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format (table, json)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Print each advertisement as it arrives")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	switch opts.format {
	case "", "table", "json":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", opts.format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format := opts.format
	if format == "" {
		format = s.cfg.OutputFormat
	}
	duration := opts.duration
	if duration <= 0 {
		duration = s.cfg.ScanTimeout
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	out := cmd.OutOrStdout()
	stopWatching := func() {}
	if opts.watch {
		discoveries, stop, err := s.manager.WatchDiscoveries(ctx, 64)
		if err != nil {
			return err
		}
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for ev := range discoveries.C() {
				fmt.Fprintln(out, formatDiscovery(ev.Device, ev.New))
			}
		}()
		stopWatching = func() {
			stop()
			<-printed
		}
	}

	if err := s.manager.StartScan(ctx); err != nil {
		stopWatching()
		return err
	}
	<-ctx.Done()
	if err := s.manager.StopScan(context.Background()); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan")
	}
	stopWatching()

	records := s.manager.Devices()
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].RSSI != records[j].RSSI {
			return records[i].RSSI > records[j].RSSI
		}
		return records[i].ID < records[j].ID
	})

	if format == "json" {
		return displayDevicesJSON(out, records)
	}
	return displayDevicesTable(out, records)
}

func displayDevicesTable(out io.Writer, records []*device.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, rec := range records {
		name := rec.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(rec.ServiceUUIDs, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, rec.ID, rec.RSSI, services)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, records []*device.Record) error {
	entries := make([]scanEntry, 0, len(records))
	for _, rec := range records {
		services := rec.ServiceUUIDs
		if services == nil {
			services = []string{}
		}
		entries = append(entries, scanEntry{
			ID:               rec.ID,
			Name:             rec.DisplayName(),
			RSSI:             rec.RSSI,
			Connectable:      rec.Connectable,
			ServiceUUIDs:     services,
			ManufacturerData: device.EncodeHex(rec.ManufacturerData),
			Vendor:           device.VendorName(rec.ManufacturerData),
			TxPowerLevel:     rec.TxPowerLevel,
		})
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
