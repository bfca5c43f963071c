// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates fstrace.yaml.
//
// Every field has a default (see DefaultConfig); a file only needs the
// values it changes. Command-line flags are applied on top of the loaded
// file by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/fstrace/pkg/logging"
	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "fstrace.yaml"

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Telemetry exporters.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of fstrace.yaml.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Render    RenderConfig    `yaml:"render"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Influx    InfluxConfig    `yaml:"influx"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`

	// Dir enables JSON file logs in addition to stderr.
	Dir string `yaml:"dir,omitempty"`
}

// StoreConfig selects the trace store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory sqlite badger"`

	// Path is the database file (sqlite) or directory (badger).
	// Unused by the memory backend.
	Path string `yaml:"path,omitempty" validate:"required_unless=Backend memory"`
}

// IngestConfig controls trace ingestion.
type IngestConfig struct {
	// AllowUnmappedPIDs labels processes missing from proc.map as
	// "<unknown>" instead of failing the ingestion.
	AllowUnmappedPIDs bool `yaml:"allow_unmapped_pids"`
}

// RenderConfig controls graph labels and outputs.
type RenderConfig struct {
	// Verbosity is 0 (base name), 1 (argv[0]) or 2 (full command line).
	Verbosity int `yaml:"verbosity" validate:"min=0,max=2"`

	// Syscalls selects the syscalls of the series output. Empty means
	// read and write.
	Syscalls []string `yaml:"syscalls,omitempty" validate:"dive,syscall"`

	// OutputDir receives exported files.
	OutputDir string `yaml:"output_dir" validate:"required"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" validate:"required"`
	Traces      string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics     string `yaml:"metrics" validate:"oneof=none stdout prometheus"`

	// OTLPEndpoint is the collector host:port for otlp traces.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Traces otlp"`

	// TextfilePath is the node-exporter textfile written at shutdown
	// when metrics are prometheus.
	TextfilePath string `yaml:"textfile_path,omitempty" validate:"required_if=Metrics prometheus"`
}

// InfluxConfig enables pushing series to an InfluxDB bucket.
type InfluxConfig struct {
	URL    string `yaml:"url,omitempty" validate:"omitempty,url"`
	Token  string `yaml:"token,omitempty"`
	Org    string `yaml:"org,omitempty" validate:"required_with=URL"`
	Bucket string `yaml:"bucket,omitempty" validate:"required_with=URL"`
}

// Enabled reports whether a server URL is configured.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Render: RenderConfig{
			Verbosity: int(proctree.VerbosityBase),
			OutputDir: ".",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "fstrace",
			Traces:      ExporterNone,
			Metrics:     ExporterNone,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("syscall", func(fl validator.FieldLevel) bool {
		_, err := syscall.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

// Verbosity returns the label verbosity.
func (c *Config) Verbosity() proctree.Verbosity {
	return proctree.Verbosity(c.Render.Verbosity)
}

// SeriesSyscalls resolves Render.Syscalls, defaulting to read and write.
func (c *Config) SeriesSyscalls() ([]syscall.Code, error) {
	if len(c.Render.Syscalls) == 0 {
		return syscall.IO(), nil
	}
	return syscall.ParseList(c.Render.Syscalls)
}

// Load reads path over the defaults and validates the result.
//
// Description:
//
//	An empty path returns the validated defaults. A path that does not
//	exist is an error, unless it is the implicit DefaultFileName.
//
// Inputs:
//
//	path - The YAML file, or "".
//
// Outputs:
//
//	*Config - The merged configuration.
//	error - Read, parse or validation failure.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && filepath.Base(path) == DefaultFileName:
		case err != nil:
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration to path, creating its
// directory. An existing file is not overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create the config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
