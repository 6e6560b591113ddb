// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the evaluation engine configuration.
//
// The configuration lives in ~/.aleutian/eval.yaml and is created with
// defaults on first use. A small set of environment variables override
// file values so CI jobs can point at a different dataset or exporter
// without editing the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianEval/services/eval/dataset"
	"github.com/AleutianAI/AleutianEval/services/eval/executor"
	"github.com/AleutianAI/AleutianEval/services/eval/storage"
	"github.com/AleutianAI/AleutianEval/services/eval/telemetry"
)

var (
	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownVariant is returned when a variant name is not configured.
	ErrUnknownVariant = errors.New("unknown variant")
)

// Config is the full engine configuration.
type Config struct {
	// Dataset is the default dataset file.
	Dataset string `yaml:"dataset" validate:"required"`

	// Limit caps the number of tasks per batch. Zero runs all tasks.
	Limit int `yaml:"limit" validate:"gte=0"`

	// Complexity restricts runs to one complexity bucket when set.
	Complexity dataset.Complexity `yaml:"complexity,omitempty" validate:"omitempty,oneof=simple medium complex"`

	Variants []executor.Variant `yaml:"variants" validate:"required,min=1,dive"`

	// Compare names the default A and B variants.
	Compare CompareConfig `yaml:"compare"`

	Storage   storage.Config   `yaml:"storage"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
	Pacing    PacingConfig     `yaml:"pacing"`
	Server    ServerConfig     `yaml:"server"`
}

// CompareConfig holds the default comparison pair.
type CompareConfig struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// PacingConfig throttles task starts so a run stays under provider rate
// limits.
type PacingConfig struct {
	// TasksPerMinute limits task starts. Zero disables pacing.
	TasksPerMinute float64 `yaml:"tasks_per_minute" validate:"gte=0"`

	// Burst is the number of tasks that may start back to back.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

var validate = validator.New()

// DefaultPath returns ~/.aleutian/eval.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "eval.yaml"), nil
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".aleutian")

	tel := telemetry.DefaultConfig()
	tel.TraceExporter = telemetry.ExporterNone

	return Config{
		Dataset: filepath.Join(base, "datasets", "smoke.yaml"),
		Variants: []executor.Variant{
			{Name: "baseline", Executor: executor.KindReplay, MaxSteps: 20},
			{Name: "candidate", Executor: executor.KindReplay, MaxSteps: 20},
		},
		Compare:   CompareConfig{A: "baseline", B: "candidate"},
		Storage:   storage.DefaultConfig(filepath.Join(base, "eval", "runs")),
		Telemetry: tel,
		Logging:   LoggingConfig{Level: "info", Dir: filepath.Join(base, "logs")},
		Server:    ServerConfig{Addr: "127.0.0.1:8095", ShutdownTimeout: 10 * time.Second},
	}
}

// Load reads the configuration at path, creating it with defaults if it
// does not exist, then applies environment overrides and validates.
//
// Inputs:
//   - path: Config file path. Empty means DefaultPath().
//
// Outputs:
//   - Config: The loaded configuration.
//   - error: File, parse or validation failure.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	// Variants from the file replace the defaults rather than merging
	// element by element.
	cfg.Variants = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = DefaultConfig().Variants
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
//
//	ALEUTIAN_EVAL_DATASET      dataset file
//	ALEUTIAN_EVAL_LIMIT        task limit
//	ALEUTIAN_EVAL_LOG_LEVEL    log level
//	ALEUTIAN_EVAL_ADDR         server address
//	OTEL_TRACES_EXPORTER       trace exporter
//	OTEL_METRICS_EXPORTER      metric exporter
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ALEUTIAN_EVAL_DATASET"); v != "" {
		c.Dataset = v
	}
	if v := os.Getenv("ALEUTIAN_EVAL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limit = n
		}
	}
	if v := os.Getenv("ALEUTIAN_EVAL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ALEUTIAN_EVAL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		c.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("OTEL_METRICS_EXPORTER"); v != "" {
		c.Telemetry.MetricExporter = v
	}
}

// Validate checks struct constraints and variant name uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[string]bool, len(c.Variants))
	for _, v := range c.Variants {
		if seen[v.Name] {
			return fmt.Errorf("%w: duplicate variant %q", ErrInvalidConfig, v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

// Variant returns the variant named name.
func (c *Config) Variant(name string) (executor.Variant, error) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, nil
		}
	}
	return executor.Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

// VariantNames lists the configured variant names in file order.
func (c *Config) VariantNames() []string {
	names := make([]string, len(c.Variants))
	for i, v := range c.Variants {
		names[i] = v.Name
	}
	return names
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
