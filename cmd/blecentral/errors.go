package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was still using it
	ErrConnectionLost = errors.New("connection lost")

	// ErrBluetoothUnavailable indicates the backend reported the radio as off
	ErrBluetoothUnavailable = errors.New("bluetooth is not available")
)

// FormatUserError renders err for the terminal, replacing error kinds with plain wording
func FormatUserError(err error) string {
	var derr *device.Error
	if !errors.As(err, &derr) {
		return err.Error()
	}

	detail := derr.Msg
	if detail == "" && derr.Err != nil {
		detail = derr.Err.Error()
	}

	var prefix string
	switch derr.Kind {
	case device.KindInvalidRequest:
		prefix = "invalid request"
	case device.KindNotConnected:
		prefix = "device is not connected"
	case device.KindOperationInProgress:
		prefix = "another operation is in progress"
	case device.KindDecode:
		prefix = "malformed data"
	case device.KindTimeout:
		prefix = "operation timed out"
	case device.KindCancelled:
		prefix = "operation cancelled"
	default:
		prefix = "bluetooth adapter error"
	}

	if detail == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, detail)
}
