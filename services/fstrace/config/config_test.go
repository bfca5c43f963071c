// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/pkg/logging"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())

	codes, err := cfg.SeriesSyscalls()
	require.NoError(t, err)
	assert.Equal(t, []syscall.Code{syscall.Read, syscall.Write}, codes)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeYAML(t, `
store:
  backend: sqlite
  path: /tmp/trace.db
render:
  verbosity: 2
  syscalls: [unlink, rename]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Render.Verbosity)
	assert.Equal(t, ".", cfg.Render.OutputDir, "untouched default survives")
	assert.Equal(t, "fstrace", cfg.Telemetry.ServiceName)

	codes, err := cfg.SeriesSyscalls()
	require.NoError(t, err)
	assert.Equal(t, []syscall.Code{syscall.Unlink, syscall.Rename}, codes)
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err, "implicit default file may be absent")
	assert.Equal(t, BackendMemory, cfg.Store.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "other.yaml"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "store: {backend: postgres}"},
		{"sqlite without path", "store: {backend: sqlite}"},
		{"verbosity out of range", "render: {verbosity: 3}"},
		{"unknown syscall", "render: {syscalls: [read, frobnicate]}"},
		{"otlp without endpoint", "telemetry: {traces: otlp}"},
		{"prometheus without textfile", "telemetry: {metrics: prometheus}"},
		{"influx without bucket", "influx: {url: 'http://localhost:8086', org: lab}"},
		{"bad log level", "log: {level: loud}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(writeYAML(t, "store: [oops"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", DefaultFileName)
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	assert.Error(t, WriteDefault(path))
}
