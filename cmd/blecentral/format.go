package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
)

var (
	newColor     = color.New(color.FgGreen)
	refreshColor = color.New(color.FgHiBlack)
	valueColor   = color.New(color.FgCyan)
	errorColor   = color.New(color.FgRed)
	stateColor   = color.New(color.FgYellow)
)

// formatDiscovery renders one advertisement line of scan --watch
func formatDiscovery(rec *device.Record, isNew bool) string {
	if isNew {
		return newColor.Sprintf("+ %-20s %s %4d dBm", rec.DisplayName(), rec.ID, rec.RSSI)
	}
	return refreshColor.Sprintf("~ %-20s %s %4d dBm", rec.DisplayName(), rec.ID, rec.RSSI)
}

// formatValue renders a notification. Known characteristics are shown parsed as well.
func formatValue(ev session.CharacteristicValueEvent) string {
	if ev.Err != nil {
		return errorColor.Sprintf("%s  <undecodable: %v>", ev.CharUUID, ev.Err)
	}
	line := fmt.Sprintf("%s  %s", ev.CharUUID, device.EncodeHex(ev.Data))
	if parsed, err := device.ParseCharacteristicValue(ev.CharUUID, ev.Data); err == nil && parsed != nil {
		line += fmt.Sprintf("  (%v)", parsed)
	}
	return valueColor.Sprint(line)
}

// formatStateChange renders a connection lifecycle transition
func formatStateChange(ev session.ConnectionStateEvent) string {
	if ev.Reason != "" {
		return stateColor.Sprintf("%s: %s -> %s (%s)", ev.ID, ev.From, ev.To, ev.Reason)
	}
	return stateColor.Sprintf("%s: %s -> %s", ev.ID, ev.From, ev.To)
}
