package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/admission"
	"github.com/Milad-Afdasta/ratewindow/internal/report"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.Clients)
	assert.Equal(t, 20, cfg.RequestsPerClient)
	assert.Equal(t, 5.0, cfg.Rate)
	assert.Equal(t, 30.0, cfg.Threshold)
	assert.Equal(t, 10.0, cfg.WindowSeconds)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Settle)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.True(t, cfg.RecordHistory)
	assert.Equal(t, admission.PolicyReadThenRecord, cfg.Policy())
	assert.Equal(t, report.FormatJSON, cfg.Format())
	assert.Equal(t, log.InfoLevel, cfg.Level())

	assert.Equal(t, 10*time.Second, cfg.Window())
	assert.Equal(t, 300, cfg.CounterCapacity())
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--port", "9090",
		"--clients", "3",
		"--rate", "2.5",
		"--window", "0.5",
		"--threshold", "7",
		"--admission-policy", "reserve",
		"--settle", "250ms",
		"--history-format", "parquet",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.Clients)
	assert.Equal(t, 2.5, cfg.Rate)
	assert.Equal(t, 500*time.Millisecond, cfg.Window())
	assert.Equal(t, 4, cfg.CounterCapacity())
	assert.Equal(t, admission.PolicyReserve, cfg.Policy())
	assert.Equal(t, 250*time.Millisecond, cfg.Settle)
	assert.Equal(t, report.FormatParquet, cfg.Format())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SIMULATOR_CLIENTS", "4")
	t.Setenv("SIMULATOR_POLL_INTERVAL", "3s")

	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Clients)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clients: 6\nthreshold: 12\ncapacity: 50\n"), 0644))

	cfg, err := Load([]string{"--config", path}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Clients)
	assert.Equal(t, 12.0, cfg.Threshold)
	assert.Equal(t, 50, cfg.CounterCapacity())
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config", cfgErr.Field)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"}, io.Discard)
	assert.True(t, errors.Is(err, ErrHelp))
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--bogus"}, io.Discard)

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty host", func(c *Config) { c.Host = "" }, "host"},
		{"public host", func(c *Config) { c.Host = "8.8.8.8" }, "host"},
		{"hostname", func(c *Config) { c.Host = "example.com" }, "host"},
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"no clients", func(c *Config) { c.Clients = 0 }, "clients"},
		{"negative requests", func(c *Config) { c.RequestsPerClient = -1 }, "requests"},
		{"zero rate", func(c *Config) { c.Rate = 0 }, "rate"},
		{"negative threshold", func(c *Config) { c.Threshold = -5 }, "threshold"},
		{"zero window", func(c *Config) { c.WindowSeconds = 0 }, "window"},
		{"negative capacity", func(c *Config) { c.Capacity = -1 }, "capacity"},
		{"capacity too large", func(c *Config) { c.Capacity = MaxCapacity + 1 }, "capacity"},
		{"derived capacity too large", func(c *Config) {
			c.WindowSeconds = 3600
			c.Threshold = 1_000_000
		}, "capacity"},
		{"derived capacity overflows int", func(c *Config) {
			c.WindowSeconds = 1e9
			c.Threshold = 1e12
		}, "capacity"},
		{"poll interval too short", func(c *Config) { c.PollInterval = time.Millisecond }, "poll-interval"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"negative settle", func(c *Config) { c.Settle = -time.Second }, "settle"},
		{"unknown policy", func(c *Config) { c.AdmissionPolicy = "lottery" }, "admission-policy"},
		{"unknown format", func(c *Config) { c.HistoryFormat = "csv" }, "history-format"},
		{"history without recording", func(c *Config) {
			c.HistoryOut = "out.json"
			c.RecordHistory = false
		}, "history-out"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log-level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(nil, io.Discard)
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateAcceptsPrivateHosts(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "::1", "10.1.2.3", "192.168.0.10", "0.0.0.0"} {
		cfg, err := Load([]string{"--host", host}, io.Discard)
		require.NoError(t, err, host)
		assert.Equal(t, host, cfg.Host)
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := errInvalid("port", "must be in 1..65535, got %d", 0)
	assert.Equal(t, "invalid configuration: port must be in 1..65535, got 0", err.Error())
}

func TestCapacityLimits(t *testing.T) {
	cfg, err := Load([]string{"--window", "600", "--threshold", "100000"}, io.Discard)
	assert.Nil(t, cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "capacity", cfgErr.Field)

	// An explicit capacity keeps a large window usable
	cfg, err = Load([]string{"--window", "600", "--threshold", "100000", "--capacity", "1000000"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000, cfg.CounterCapacity())

	cfg, err = Load([]string{"--window", "1000", "--threshold", "10000"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, MaxCapacity, cfg.CounterCapacity())
}
