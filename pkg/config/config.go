package config

import (
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/adapter/sim"
	"github.com/srg/blecentral/internal/session"
	"gopkg.in/yaml.v3"
)

// Backends that can be selected by name
const (
	BackendSim    = "sim"
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel         string        `json:"log_level" yaml:"log_level" default:"info"`
	Backend          string        `json:"backend" yaml:"backend" default:"sim"`
	ScanTimeout      time.Duration `json:"scan_timeout" yaml:"scan_timeout" default:"10s"`
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" default:"10s"`
	SweepInterval    time.Duration `json:"sweep_interval" yaml:"sweep_interval" default:"1s"`
	QueueSize        int           `json:"queue_size" yaml:"queue_size" default:"256"`
	OutputFormat     string        `json:"output_format" yaml:"output_format" default:"table"` // table, json
	Sim              SimConfig     `json:"sim" yaml:"sim"`
}

// SimConfig tunes the simulated backend
type SimConfig struct {
	DiscoveryInterval time.Duration `json:"discovery_interval" yaml:"discovery_interval" default:"300ms"`
	ConnectDelay      time.Duration `json:"connect_delay" yaml:"connect_delay" default:"150ms"`
	ResponseDelay     time.Duration `json:"response_delay" yaml:"response_delay" default:"25ms"`
	NotifyInterval    time.Duration `json:"notify_interval" yaml:"notify_interval" default:"1s"`

	// FailConnect lists device ids whose first connection attempt fails
	FailConnect []string `json:"fail_connect" yaml:"fail_connect"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Sim)
	return cfg
}

// Load reads a YAML config file over the defaults and validates the result
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto reads a YAML config file over cfg. Fields absent from the file keep the
// values cfg already holds.
func LoadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrapf(err, "invalid config %s", path)
	}
	return nil
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("log_level must be a logrus level, got %q", c.LogLevel)
	}

	switch c.Backend {
	case BackendSim, BackendGoBLE, BackendTinyGo:
	default:
		return errors.Errorf("backend must be %q, %q or %q, got %q", BackendSim, BackendGoBLE, BackendTinyGo, c.Backend)
	}

	switch c.OutputFormat {
	case "table", "json":
	default:
		return errors.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat)
	}

	if c.ScanTimeout <= 0 {
		return errors.New("scan_timeout must be > 0")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("operation_timeout must be > 0")
	}
	if c.SweepInterval <= 0 || c.SweepInterval > c.OperationTimeout {
		return errors.Errorf("sweep_interval must be in (0, operation_timeout], got %s", c.SweepInterval)
	}
	if c.QueueSize <= 0 {
		return errors.New("queue_size must be > 0")
	}
	return nil
}

// Level returns the configured log level, Info when it does not parse
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions maps the config onto session manager options
func (c *Config) SessionOptions(logger *logrus.Logger) session.Options {
	return session.Options{
		OperationTimeout: c.OperationTimeout,
		SweepInterval:    c.SweepInterval,
		QueueSize:        c.QueueSize,
		Logger:           logger,
	}
}

// SimOptions maps the config onto simulated backend options
func (c *Config) SimOptions(logger *logrus.Logger) sim.Options {
	return sim.Options{
		DiscoveryInterval: c.Sim.DiscoveryInterval,
		ConnectDelay:      c.Sim.ConnectDelay,
		ResponseDelay:     c.Sim.ResponseDelay,
		NotifyInterval:    c.Sim.NotifyInterval,
		Logger:            logger,
	}
}
