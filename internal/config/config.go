// Package config loads and validates the run configuration from flags,
// SIMULATOR_* environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/admission"
	"github.com/Milad-Afdasta/ratewindow/internal/report"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8080
	DefaultClients           = 10
	DefaultRequestsPerClient = 20
	DefaultRate              = 5
	DefaultThreshold         = 30
	DefaultWindow            = 10
)

// Limits
const (
	// MaxCapacity bounds the window counter and latency series, whether set
	// explicitly or derived from window * threshold
	MaxCapacity = 10_000_000

	// MinPollInterval bounds how fast the monitor grows the history
	MinPollInterval = 10 * time.Millisecond
)

// ErrHelp is returned when usage was requested
var ErrHelp = pflag.ErrHelp

// Config is the immutable run configuration
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	Clients           int     `mapstructure:"clients"`
	RequestsPerClient int     `mapstructure:"requests"`
	Rate              float64 `mapstructure:"rate"`
	Threshold         float64 `mapstructure:"threshold"`
	WindowSeconds     float64 `mapstructure:"window"`

	// Capacity bounds the window counter; 0 sizes it as window * threshold
	Capacity int `mapstructure:"capacity"`

	AdmissionPolicy string `mapstructure:"admission-policy"`

	Timeout      time.Duration `mapstructure:"timeout"`
	ReadyTimeout time.Duration `mapstructure:"ready-timeout"`
	Settle       time.Duration `mapstructure:"settle"`
	PollInterval time.Duration `mapstructure:"poll-interval"`

	RecordHistory bool   `mapstructure:"record-history"`
	HistoryOut    string `mapstructure:"history-out"`
	HistoryFormat string `mapstructure:"history-format"`
	OutcomesOut   string `mapstructure:"outcomes-out"`

	Progress bool   `mapstructure:"progress"`
	LogLevel string `mapstructure:"log-level"`
}

func newFlagSet(out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	fs.SetOutput(out)

	fs.String("config", "", "optional YAML configuration file")
	fs.String("host", DefaultHost, "server host (loopback or private address)")
	fs.Int("port", DefaultPort, "server port")
	fs.Int("clients", DefaultClients, "number of simulated clients")
	fs.Int("requests", DefaultRequestsPerClient, "requests per client")
	fs.Float64("rate", DefaultRate, "requests per second per client")
	fs.Float64("threshold", DefaultThreshold, "detection threshold in requests per second")
	fs.Float64("window", DefaultWindow, "metrics window in seconds")
	fs.Int("capacity", 0, "window counter capacity (0 = window * threshold)")
	fs.String("admission-policy", string(admission.PolicyReadThenRecord), "read-then-record or reserve")
	fs.Duration("timeout", 5*time.Second, "per-request client timeout")
	fs.Duration("ready-timeout", 5*time.Second, "max wait for the listener to become ready")
	fs.Duration("settle", 2*time.Second, "delay after the load finishes before the final snapshot")
	fs.Duration("poll-interval", time.Second, "interval between live metrics polls")
	fs.Bool("record-history", true, "record sampled snapshots for export")
	fs.String("history-out", "", "write the metrics history to this file")
	fs.String("history-format", string(report.FormatJSON), "history format: json, yaml or parquet")
	fs.String("outcomes-out", "", "write per-request client outcomes to this parquet file")
	fs.Bool("progress", false, "show a progress bar on stderr")
	fs.String("log-level", "info", "log level")
	return fs
}

// Load parses args, merges environment and config file values and validates
// the result. No network resource is touched.
func Load(args []string, usage io.Writer) (*Config, error) {
	fs := newFlagSet(usage)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, &ConfigError{Message: err.Error()}
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix("SIMULATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Field: "config", Message: err.Error()}
		}
		log.Infof("Loaded configuration from %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to unmarshal: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every parameter
func (c *Config) Validate() error {
	if err := validateHost(c.Host); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return errInvalid("port", "must be in 1..65535, got %d", c.Port)
	}
	if c.Clients <= 0 {
		return errInvalid("clients", "must be positive, got %d", c.Clients)
	}
	if c.RequestsPerClient <= 0 {
		return errInvalid("requests", "must be positive, got %d", c.RequestsPerClient)
	}
	if !positive(c.Rate) {
		return errInvalid("rate", "must be positive, got %v", c.Rate)
	}
	if !positive(c.Threshold) {
		return errInvalid("threshold", "must be positive, got %v", c.Threshold)
	}
	if !positive(c.WindowSeconds) {
		return errInvalid("window", "must be positive, got %v", c.WindowSeconds)
	}
	if c.Capacity < 0 {
		return errInvalid("capacity", "cannot be negative, got %d", c.Capacity)
	}
	if c.Capacity > MaxCapacity {
		return errInvalid("capacity", "cannot exceed %d, got %d", MaxCapacity, c.Capacity)
	}
	if c.Capacity == 0 {
		// Checked as float so an oversized product never reaches the int conversion
		if derived := math.Ceil(c.WindowSeconds * c.Threshold); derived > MaxCapacity {
			return errInvalid("capacity", "window * threshold = %.0f exceeds %d, set an explicit capacity", derived, MaxCapacity)
		}
	}
	if c.Timeout <= 0 {
		return errInvalid("timeout", "must be positive, got %v", c.Timeout)
	}
	if c.ReadyTimeout <= 0 {
		return errInvalid("ready-timeout", "must be positive, got %v", c.ReadyTimeout)
	}
	if c.Settle < 0 {
		return errInvalid("settle", "cannot be negative, got %v", c.Settle)
	}
	if c.PollInterval < MinPollInterval {
		return errInvalid("poll-interval", "must be at least %v, got %v", MinPollInterval, c.PollInterval)
	}
	if _, err := admission.ParsePolicy(c.AdmissionPolicy); err != nil {
		return errInvalid("admission-policy", "%v", err)
	}
	if _, err := report.ParseFormat(c.HistoryFormat); err != nil {
		return errInvalid("history-format", "%v", err)
	}
	if c.HistoryOut != "" && !c.RecordHistory {
		return errInvalid("history-out", "requires record-history")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errInvalid("log-level", "%v", err)
	}
	return nil
}

// Window returns the metrics window as a duration
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds * float64(time.Second))
}

// CounterCapacity returns the window counter capacity. Only valid after Validate.
func (c *Config) CounterCapacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	n := int(math.Ceil(c.WindowSeconds * c.Threshold))
	if n < 1 {
		n = 1
	}
	return n
}

// Policy returns the parsed admission policy. Only valid after Validate.
func (c *Config) Policy() admission.Policy {
	p, _ := admission.ParsePolicy(c.AdmissionPolicy)
	return p
}

// Format returns the parsed history format. Only valid after Validate.
func (c *Config) Format() report.Format {
	f, _ := report.ParseFormat(c.HistoryFormat)
	return f
}

// Level returns the parsed log level. Only valid after Validate.
func (c *Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// validateHost restricts the simulator to local or private addresses
func validateHost(host string) error {
	if host == "" {
		return errInvalid("host", "is required")
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return errInvalid("host", "must be localhost or an IP address, got %q", host)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() {
		return errInvalid("host", "must be a loopback or private address, got %s", host)
	}
	return nil
}
