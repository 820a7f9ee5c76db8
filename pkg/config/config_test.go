package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendSim, cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout)
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 300*time.Millisecond, cfg.Sim.DiscoveryInterval)
	assert.Equal(t, 150*time.Millisecond, cfg.Sim.ConnectDelay)
	assert.Empty(t, cfg.Sim.FailConnect)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			expected: logrus.ErrorLevel,
		},
		{
			name:     "unparsable level falls back to info",
			logLevel: "chatty",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blecentral.yaml")
	content := `
log_level: debug
backend: goble
operation_timeout: 3s
sim:
  connect_delay: 10ms
  fail_connect:
    - simulated-device-002
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Sim.ConnectDelay)
	assert.Equal(t, []string{"simulated-device-002"}, cfg.Sim.FailConnect)

	// untouched fields keep their defaults
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Sim.DiscoveryInterval)
}

func TestLoadInto_KeepsCallerValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operation_timeout: 2s\n"), 0o600))

	cfg := DefaultConfig()
	cfg.LogLevel = "panic"
	require.NoError(t, LoadInto(path, cfg))

	assert.Equal(t, "panic", cfg.LogLevel, "fields absent from the file keep their value")
	assert.Equal(t, 2*time.Second, cfg.OperationTimeout)

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))
	require.NoError(t, LoadInto(path, cfg))
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")

	malformed := filepath.Join(dir, "malformed.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("backend: [sim"), 0o600))
	_, err = Load(malformed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("backend: bluez\n"), 0o600))
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend must be")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"tinygo backend", func(c *Config) { c.Backend = BackendTinyGo }, ""},
		{"json output", func(c *Config) { c.OutputFormat = "json" }, ""},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Backend = "bluez" }, "backend"},
		{"csv output", func(c *Config) { c.OutputFormat = "csv" }, "output_format"},
		{"zero scan timeout", func(c *Config) { c.ScanTimeout = 0 }, "scan_timeout"},
		{"zero operation timeout", func(c *Config) { c.OperationTimeout = 0 }, "operation_timeout"},
		{"sweep slower than timeout", func(c *Config) { c.SweepInterval = time.Minute }, "sweep_interval"},
		{"empty queue", func(c *Config) { c.QueueSize = 0 }, "queue_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	logger := cfg.NewLogger()

	opts := cfg.SessionOptions(logger)
	assert.Equal(t, cfg.OperationTimeout, opts.OperationTimeout)
	assert.Equal(t, cfg.SweepInterval, opts.SweepInterval)
	assert.Equal(t, cfg.QueueSize, opts.QueueSize)
	assert.Same(t, logger, opts.Logger)

	simOpts := cfg.SimOptions(logger)
	assert.Equal(t, cfg.Sim.DiscoveryInterval, simOpts.DiscoveryInterval)
	assert.Equal(t, cfg.Sim.NotifyInterval, simOpts.NotifyInterval)
	assert.Same(t, logger, simOpts.Logger)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
