// Package logging sets up the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rugwirobaker/ember/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the level of every logger built by New. It can be changed at
// runtime.
var Level slog.LevelVar

// New builds a logger from c. Output goes to stderr, or to a rotated file
// when c.Path is set; the returned closer releases that file.
func New(c config.Log) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.Debug {
		level = slog.LevelDebug
	}
	Level.Set(level)

	opts := slog.HandlerOptions{Level: &Level}
	if !c.Timestamp {
		opts.ReplaceAttr = removeTime
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if c.Path != nil && *c.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   *c.Path,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
		}
		w, closer = rotator, rotator
	}

	var handler slog.Handler
	switch format := c.Format; format {
	case "text", "":
		handler = slog.NewTextHandler(w, &opts)
	case "json":
		handler = slog.NewJSONHandler(w, &opts)
	default:
		return nil, nil, fmt.Errorf("invalid log format: %q", format)
	}

	return slog.New(handler), closer, nil
}

// Configure builds a logger from c and installs it as the slog default.
func Configure(c config.Log) (io.Closer, error) {
	logger, closer, err := New(c)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q", s)
	}
}

// removeTime removes the "time" field from slog.
func removeTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.Attr{}
	}
	return a
}
