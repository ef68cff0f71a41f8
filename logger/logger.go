// SPDX-License-Identifier: EPL-2.0

// Package logger builds the zerolog logger shared by the CLI and handed to
// the library packages.
package logger

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a logger writing to w. format "json" writes one JSON object
// per line, anything else a human readable console format. Unknown levels
// fall back to info.
func Setup(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component derives the logger of one subsystem.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
