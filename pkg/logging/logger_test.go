// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"", LevelInfo},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelInfo, Service: "aleutian-eval", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("run started", "run_id", "r1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "run started")
	assert.Contains(t, out, "run_id=r1")
	assert.Contains(t, out, "service=aleutian-eval")
	assert.Empty(t, logger.FilePath())
	assert.NoError(t, logger.Close())
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelDebug, JSON: true, Output: &buf})
	require.NoError(t, err)

	logger.Debug("task finished", "task_id", "t1", "solved", true)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "task finished", rec["msg"])
	assert.Equal(t, "t1", rec["task_id"])
	assert.Equal(t, true, rec["solved"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelWarn, Output: &buf})
	require.NoError(t, err)

	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	out := buf.String()
	assert.NotContains(t, out, "msg=info")
	assert.Contains(t, out, "msg=warn")
	assert.Contains(t, out, "msg=error")
}

func TestNew_WithLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelInfo, LogDir: dir, Service: "eval-test", Output: &buf})
	require.NoError(t, err)

	logger.With("run_id", "r9").Info("persisted")
	require.NoError(t, logger.Close())

	want := filepath.Join(dir, "eval-test_"+time.Now().Format("2006-01-02")+".log")
	assert.Equal(t, want, logger.FilePath())

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "persisted", rec["msg"])
	assert.Equal(t, "r9", rec["run_id"])
	assert.Equal(t, "eval-test", rec["service"])
	assert.Contains(t, buf.String(), "persisted", "console still receives records")
}

func TestNew_QuietWithLogDir(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, err := New(Config{LogDir: dir, Quiet: true, Output: &buf})
	require.NoError(t, err)

	logger.Info("file only")
	require.NoError(t, logger.Close())

	assert.Empty(t, buf.String())
	data, err := os.ReadFile(logger.FilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "file only")
	assert.True(t, strings.HasPrefix(filepath.Base(logger.FilePath()), "aleutian-eval_"))
}

func TestNew_UnwritableLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	var buf bytes.Buffer
	logger, err := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	assert.Error(t, err)
	require.NotNil(t, logger, "console logging survives a file failure")

	logger.Info("still here")
	assert.Contains(t, buf.String(), "still here")
}

func TestLogger_CloseTwice(t *testing.T) {
	logger, err := New(Config{LogDir: t.TempDir(), Quiet: true})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestLogger_SetDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)
	logger.SetDefault()

	slog.Info("via default")
	assert.Contains(t, buf.String(), "via default")
	assert.Same(t, logger.Slog(), slog.Default())
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger, err := New(Config{LogDir: t.TempDir(), Quiet: true})
	require.NoError(t, err)
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.With("worker", n).Info("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandler(t *testing.T) {
	var text, js bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&text, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&js, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("run_id", "r1")}).WithGroup("task"))
	logger.Debug("step", "n", 3)

	assert.Empty(t, text.String(), "text handler filters debug")
	assert.Contains(t, js.String(), `"run_id":"r1"`)
	assert.Contains(t, js.String(), `"task":{"n":3}`)
}

func TestMultiHandler_JoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	ok := slog.NewTextHandler(&buf, nil)
	h := &multiHandler{handlers: []slog.Handler{failingHandler{ok}, ok}}

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0))
	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "msg", "later handlers still run")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".aleutian/logs"), expandPath("~/.aleutian/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}
