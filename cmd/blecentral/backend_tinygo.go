//go:build tinygo_ble

package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/adapter/tinygo"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/config"
)

const hardwareBackend = config.BackendTinyGo

func newHardwareAdapter(_ *config.Config, logger *logrus.Logger) native.Adapter {
	return tinygo.New(logger)
}
