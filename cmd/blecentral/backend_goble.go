//go:build !tinygo_ble

package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/adapter/goble"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/config"
)

const hardwareBackend = config.BackendGoBLE

func newHardwareAdapter(cfg *config.Config, logger *logrus.Logger) native.Adapter {
	return goble.New(goble.Options{ConnectTimeout: cfg.OperationTimeout, Logger: logger})
}
