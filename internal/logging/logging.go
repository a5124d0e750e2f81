// Package logging builds the slog logger shared by the client and the server.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config описывает вывод логов.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text или json
	File   string // пусто - stderr
	// Ротация файла, используется только вместе с File
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig is info-level text output to stderr.
var DefaultConfig = Config{
	Level:      "info",
	Format:     FormatText,
	MaxSizeMB:  10,
	MaxBackups: 3,
	MaxAgeDays: 28,
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// New creates a logger writing to stderr or to a rotating file.
// The returned closer must be called on shutdown.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var out io.WriteCloser = nopCloser{os.Stderr}
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	logger, err := NewWithWriter(cfg, out)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return logger, out, nil
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		handler = slog.NewTextHandler(w, opts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
