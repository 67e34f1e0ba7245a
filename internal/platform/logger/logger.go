package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/quill/internal/config"
)

// ParseLevel maps a case-insensitive level name onto a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup builds the application logger writing to stdout and installs it as
// the slog default.
func Setup(cfg config.LogConfig) (*slog.Logger, error) {
	return New(os.Stdout, cfg)
}

// New builds a logger writing to out. An invalid level falls back to info
// with a warning on the new logger. Every record passes through a
// ContextHandler so attributes attached with WithAttrs reach the output.
func New(out io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, levelErr := ParseLevel(cfg.Level)

	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		base = slog.NewTextHandler(out, opts)
	case "json", "":
		base = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	log := slog.New(NewContextHandler(base))
	if levelErr != nil {
		log.Warn("invalid log level configured, using default level",
			slog.String("configured_level", cfg.Level),
			slog.String("default_level", "info"))
	}

	slog.SetDefault(log)
	return log, nil
}
