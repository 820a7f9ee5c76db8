package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/adapter/sim"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/config"
)

// simFailureMessage is reported for ids listed in sim.fail_connect
const simFailureMessage = "Simulated connection failure"

// newAdapter creates the backend named by cfg.Backend
func newAdapter(cfg *config.Config, logger *logrus.Logger) (native.Adapter, error) {
	if cfg.Backend == config.BackendSim {
		adapter := sim.New(cfg.SimOptions(logger))
		for _, id := range cfg.Sim.FailConnect {
			adapter.FailNextConnect(id, simFailureMessage)
		}
		return adapter, nil
	}

	if cfg.Backend != hardwareBackend {
		return nil, errors.Errorf("backend %q is not compiled into this binary (available: %s, %s)",
			cfg.Backend, config.BackendSim, hardwareBackend)
	}
	return newHardwareAdapter(cfg, logger), nil
}
