package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/pkg/config"
)

// loadConfig resolves the effective configuration: defaults, then --config, then the
// --log-level and --backend flags. It returns the config and a logger built from it.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg := config.DefaultConfig()
	// Default to panic level (essentially silent for normal operations)
	cfg.LogLevel = logrus.PanicLevel.String()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.LoadInto(path, cfg); err != nil {
			return nil, nil, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
		}
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return cfg, logger, nil
}
