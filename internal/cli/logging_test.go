package cli

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/autoform/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestUseJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.True(t, useJSON(&buf, "text", true), "--json wins")
	assert.True(t, useJSON(&buf, "json", false))
	assert.False(t, useJSON(&buf, "text", false))
	assert.True(t, useJSON(&buf, "auto", false), "non-terminal writers get JSON")
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("configured level and format", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "text"}, logFlags{})

		logger.Info("hidden")
		logger.Warn("shown", "session", "s1")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=shown")
		assert.Contains(t, out, "session=s1")
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger := newLogger(&buf, config.LogConfig{Level: "error", Format: "json"}, logFlags{verbose: true})

		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
		logger.Debug("trace")
		assert.Contains(t, buf.String(), `"msg":"trace"`)
	})

	t.Run("quiet raises to warn", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger := newLogger(&buf, config.LogConfig{Level: "debug", Format: "text"}, logFlags{quiet: true})

		assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	})
}
