package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/autoform/internal/config"
)

type logFlags struct {
	verbose bool
	quiet   bool
	json    bool
}

// newLogger builds the process logger: text on a terminal, JSON otherwise
// or when asked for. Flags override the configured level.
func newLogger(w io.Writer, cfg config.LogConfig, flags logFlags) *slog.Logger {
	level := parseLevel(cfg.Level)
	switch {
	case flags.verbose:
		level = slog.LevelDebug
	case flags.quiet:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}

	if useJSON(w, cfg.Format, flags.json) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func useJSON(w io.Writer, format string, forced bool) bool {
	switch {
	case forced || format == "json":
		return true
	case format == "text":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
