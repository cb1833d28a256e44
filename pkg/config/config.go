// Package config loads the engine configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/dexplain/pkg/engine"
)

// EnvPrefix is the prefix of the environment variables that override the configuration file.
const EnvPrefix = "DEXPLAIN_"

var validate = validator.New()

// Config is the configuration of an explanation run.
type Config struct {
	// Workers is the number of query workers.
	Workers int `json:"workers" validate:"gte=1,lte=256"`
	// Shards is the number of derivation graph shards.
	Shards int `json:"shards" validate:"gte=1,lte=1024"`
	// CorrectionRounds bounds the per-epoch re-runs of the computation on each must-set.
	CorrectionRounds int `json:"correctionRounds" validate:"gte=0,lte=64"`
	// LogLevel is one of debug, info, error, or a non-negative verbosity.
	LogLevel string `json:"logLevel" validate:"omitempty,loglevel"`
	// Metrics configures metric collection.
	Metrics Metrics `json:"metrics"`
}

// Metrics configures metric collection.
type Metrics struct {
	Enabled bool `json:"enabled"`
	// Address is the listen address of the metrics endpoint, empty to disable serving.
	Address string `json:"address,omitempty" validate:"omitempty,hostname_port"`
}

func init() {
	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		switch s := fl.Field().String(); s {
		case "debug", "info", "error":
			return true
		default:
			n, err := strconv.Atoi(s)
			return err == nil && n >= 0
		}
	})
}

// Default returns the default configuration.
func Default() Config {
	return Config{Workers: 1, Shards: 1, LogLevel: "info"}
}

// Load reads the configuration from a YAML file, applies the environment overrides and validates
// the result. An empty path loads the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EngineOptions converts the configuration into engine options.
func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		Workers:          c.Workers,
		Shards:           c.Shards,
		CorrectionRounds: c.CorrectionRounds,
		DisableMetrics:   !c.Metrics.Enabled,
	}
}

func (c *Config) applyEnv() error {
	var err error
	if c.Workers, err = envInt("WORKERS", c.Workers); err != nil {
		return err
	}
	if c.Shards, err = envInt("SHARDS", c.Shards); err != nil {
		return err
	}
	if c.CorrectionRounds, err = envInt("CORRECTION_ROUNDS", c.CorrectionRounds); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sMETRICS_ENABLED %q: %w", EnvPrefix, v, err)
		}
		c.Metrics.Enabled = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "METRICS_ADDRESS"); ok {
		c.Metrics.Address = v
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
	}
	return n, nil
}
