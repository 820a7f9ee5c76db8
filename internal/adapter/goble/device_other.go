//go:build !darwin && !linux

package goble

import (
	"runtime"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
)

func defaultDevice() (ble.Device, error) {
	return nil, errors.Errorf("go-ble has no backend for %s", runtime.GOOS)
}
