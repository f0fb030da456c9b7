// Package config provides unified configuration loading for the converter.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config contains all converter settings.
type Config struct {
	// Solver bounds the IPF fixed-point iteration.
	Solver SolverConfig `yaml:"solver"`

	// Output controls the emitted event schema values and sink format.
	Output OutputConfig `yaml:"output"`

	// Workers is the number of hours processed concurrently. Zero or one
	// means sequential processing.
	Workers int `yaml:"workers"`

	// LogLevel sets verbosity: "error", "warn", "info" (default), "debug".
	LogLevel string `yaml:"log_level"`
}

// SolverConfig bounds the IPF solver.
type SolverConfig struct {
	// Tolerance is the convergence threshold on the relative marginal
	// deviation. Default: 1e-6.
	Tolerance float64 `yaml:"tolerance"`

	// MaxIterations caps IPF sweeps per hour. Default: 100.
	MaxIterations int `yaml:"max_iterations"`
}

// OutputConfig controls emission.
type OutputConfig struct {
	// Format selects the sink: "csv" (default) or "sqlite".
	Format string `yaml:"format"`

	// WebsiteID is the Umami website UUID stamped on every event. Empty
	// generates a fresh one per run.
	WebsiteID string `yaml:"website_id"`

	// Hostname overrides the site origin inferred from the export
	// directory name.
	Hostname string `yaml:"hostname"`

	// Language is the session language on pageview events. Default: en-US.
	Language string `yaml:"language"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Solver: SolverConfig{
			Tolerance:     1e-6,
			MaxIterations: 100,
		},
		Output: OutputConfig{
			Format:   "csv",
			Language: "en-US",
		},
		Workers:  1,
		LogLevel: "info",
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty), then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("solver tolerance must be positive, got %g", c.Solver.Tolerance)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver max_iterations must be positive, got %d", c.Solver.MaxIterations)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	switch c.Output.Format {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("invalid output format: %q (valid: csv, sqlite)", c.Output.Format)
	}
	return nil
}

// applyEnvOverrides applies F2U_* environment variables on top of the
// loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("F2U_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("F2U_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("F2U_OUTPUT_FORMAT"); v != "" {
		cfg.Output.Format = v
	}
	if v := os.Getenv("F2U_WEBSITE_ID"); v != "" {
		cfg.Output.WebsiteID = v
	}
	if v := os.Getenv("F2U_HOSTNAME"); v != "" {
		cfg.Output.Hostname = v
	}
}
