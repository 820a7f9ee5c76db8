package goble

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/srg/blecentral/internal/device"
)

// NormalizeError classifies go-ble failures. The macOS stack reports a powered-off
// radio and dropped links with its own wording; everything else falls through to
// device.NormalizeError.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := device.KindOf(err); ok {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"):
		return &device.Error{Kind: device.KindAdapter, Msg: "bluetooth is turned off", Err: err}
	case strings.Contains(msg, "disconnected"):
		return &device.Error{Kind: device.KindNotConnected, Err: err}
	}
	return device.NormalizeError(err)
}

// wrap annotates err with the failed operation, then normalizes it
func wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return NormalizeError(errors.Wrapf(err, format, args...))
}
