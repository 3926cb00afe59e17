// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the daemon's structured logger
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps debug|info|warn|error to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w. format is "json" or "text"; anything
// else selects text.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	}
	return slog.New(handler)
}

// FromEnv builds a stderr logger from LOG_FORMAT and the given level name,
// falling back to LOG_LEVEL when levelName is empty
func FromEnv(levelName string) (*slog.Logger, error) {
	if levelName == "" {
		levelName = os.Getenv("LOG_LEVEL")
	}
	level, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	return New(os.Stderr, os.Getenv("LOG_FORMAT"), level), nil
}

// Component tags a logger with the subsystem it belongs to
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}
