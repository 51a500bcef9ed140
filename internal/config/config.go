// Package config resolves stepprobe settings.
//
// Values are layered, lowest precedence first: struct defaults, the YAML config
// file, STEPPROBE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/scheduler"
	"github.com/srg/stepprobe/internal/worker"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "STEPPROBE"

// Supported BLE backends.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Config is the resolved configuration. Keys match the flag names.
type Config struct {
	Device   string `mapstructure:"device"`
	Nickname string `mapstructure:"nickname"`
	Backend  string `mapstructure:"backend" default:"go-ble"`
	LogLevel string `mapstructure:"log-level" default:"info"`

	MaxAmps        float64 `mapstructure:"max-amps" default:"2"`
	Units          string  `mapstructure:"units" default:"steps"`
	StepsPerUnit   float64 `mapstructure:"steps-per-unit" default:"1"`
	CaptureDivider int     `mapstructure:"capture-divider" default:"5"`

	ScanTimeout    time.Duration `mapstructure:"scan-timeout" default:"5s"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout" default:"10s"`
	OpTimeout      time.Duration `mapstructure:"op-timeout" default:"2s"`

	TickInterval      time.Duration `mapstructure:"tick-interval" default:"20ms"`
	CycleTicks        int           `mapstructure:"cycle-ticks" default:"25"`
	DataLossThreshold time.Duration `mapstructure:"data-loss-threshold" default:"25ms"`
	DropAfterReset    int           `mapstructure:"drop-after-reset" default:"3"`
	FilterAlpha       float64       `mapstructure:"filter-alpha" default:"0.5"`

	NotificationBuffer uint32        `mapstructure:"notification-buffer" default:"256"`
	WorkerQueue        int           `mapstructure:"worker-queue" default:"4"`
	BreakerMaxFailures uint32        `mapstructure:"breaker-max-failures" default:"5"`
	BreakerTimeout     time.Duration `mapstructure:"breaker-timeout" default:"5s"`

	MetricsAddr string `mapstructure:"metrics-addr"`

	Opcodes probe.Opcodes `mapstructure:"opcodes"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load resolves the configuration. configFile may be empty, in which case
// stepprobe.yaml is looked up in the user config directory and the working
// directory; a missing file is not an error. flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(*Default()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("stepprobe")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "stepprobe"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every mapstructure-tagged field of rv as a viper default.
// Nested structs become dotted keys.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			setDefaults(v, key, rv.Field(i))
			continue
		}
		v.SetDefault(key, rv.Field(i).Interface())
	}
}

// Validate rejects settings the probe session cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("unknown backend %q (must be %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.MaxAmps <= 0 {
		return fmt.Errorf("max amps must be positive, got %v", c.MaxAmps)
	}
	if c.NotificationBuffer == 0 {
		return fmt.Errorf("notification buffer must be positive")
	}
	if c.ScanTimeout <= 0 || c.ConnectTimeout <= 0 || c.OpTimeout <= 0 {
		return fmt.Errorf("scan, connect and op timeouts must be positive")
	}
	if err := c.Scheduler().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Scheduler returns the scheduler policy.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		TickInterval:      c.TickInterval,
		CycleTicks:        c.CycleTicks,
		DataLossThreshold: c.DataLossThreshold,
		DropAfterReset:    c.DropAfterReset,
		FilterAlpha:       c.FilterAlpha,
		StepsPerUnit:      c.StepsPerUnit,
		CaptureDivider:    c.CaptureDivider,
		SampleLogEvery:    scheduler.DefaultConfig().SampleLogEvery,
	}
}

// Worker returns the link worker settings.
func (c *Config) Worker() worker.Config {
	return worker.Config{
		QueueSize:          c.WorkerQueue,
		OpTimeout:          c.OpTimeout,
		BreakerMaxFailures: c.BreakerMaxFailures,
		BreakerTimeout:     c.BreakerTimeout,
	}
}

// ProbeOptions returns the protocol options.
func (c *Config) ProbeOptions() probe.Options {
	return probe.Options{
		Opcodes:      c.Opcodes,
		StepsPerUnit: c.StepsPerUnit,
	}
}
