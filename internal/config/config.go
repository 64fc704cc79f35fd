// Package config handles TOML configuration for sweepr.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/sweepr/reconciler"
)

// Config is the root configuration structure.
type Config struct {
	Policy  PolicyConfig  `toml:"policy"`
	Scanner ScannerConfig `toml:"scanner"`
	Storage StorageConfig `toml:"storage"`
	AWS     AWSConfig     `toml:"aws"`
	Filter  FilterConfig  `toml:"filter"`
	OTEL    OTELConfig    `toml:"otel"`
	Log     LogConfig     `toml:"log"`
}

// PolicyConfig holds the retention policy. Rules are "threshold:pattern"
// strings evaluated in order, the last match wins.
type PolicyConfig struct {
	Age   string   `toml:"age"`
	Rules []string `toml:"rules"`
}

// ScannerConfig holds scanner settings.
type ScannerConfig struct {
	Binary     string   `toml:"binary"`
	Args       []string `toml:"args"`
	TimeoutStr string   `toml:"timeout"`
	Timeout    time.Duration
	Debug      bool `toml:"debug"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	History string `toml:"history"`
}

// AWSConfig holds credentials selection for s3:// locations.
type AWSConfig struct {
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// FilterConfig narrows the scan before reconciliation.
type FilterConfig struct {
	ExcludeKinds []string          `toml:"exclude_kinds"`
	IncludeTags  map[string]string `toml:"include_tags"`
	ExcludeTags  map[string]string `toml:"exclude_tags"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Pushgateway string        `toml:"pushgateway"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseTimeout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Policy.Age == "" {
		cfg.Policy.Age = "48h"
	}
	if cfg.Scanner.Binary == "" {
		cfg.Scanner.Binary = "awsweeper"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "sweepr"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseTimeout(cfg *Config) error {
	if cfg.Scanner.TimeoutStr == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Scanner.TimeoutStr)
	if err != nil {
		return fmt.Errorf("parse timeout %q: %w", cfg.Scanner.TimeoutStr, err)
	}
	if d < 0 {
		return fmt.Errorf("scanner: timeout must not be negative (got %s)", d)
	}
	cfg.Scanner.Timeout = d
	return nil
}

// AgePolicy builds the retention policy described by the policy section.
func (c *Config) AgePolicy() (*reconciler.AgePolicy, error) {
	def, err := reconciler.ParseAge(c.Policy.Age)
	if err != nil {
		return nil, fmt.Errorf("policy: age: %w", err)
	}
	rules, err := reconciler.ParseRules(c.Policy.Rules)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return reconciler.NewAgePolicy(def, rules...), nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.AgePolicy(); err != nil {
		return err
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}
