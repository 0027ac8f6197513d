// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging constructs the zerolog loggers used across riglink.
// Components receive a zerolog.Logger by value and tag it with their
// own component field.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates the process logger writing to stderr. The level is
// applied through zerolog's global level so SetLevel can adjust it at
// runtime in either direction. Format "console" produces
// human-readable output; anything else produces structured JSON.
func New(level, format string) zerolog.Logger {
	SetLevel(level)

	var w io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel changes the process-wide log level. Unknown levels fall
// back to info.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return lvl
}

// NewWithWriter builds a logger with an explicit destination and a
// per-logger level, used by tests.
func NewWithWriter(level, format string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// Nop returns a disabled logger for components that run without one.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
