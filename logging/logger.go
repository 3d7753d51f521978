// Package logging installs the process-wide slog logger, backed by zerolog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

const DefaultLogLevel = slog.LevelInfo

// ParseLogLevel maps "debug", "info", "warn" or "error" to a slog level.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch {
	case strings.EqualFold(levelStr, slog.LevelDebug.String()):
		return slog.LevelDebug, nil
	case strings.EqualFold(levelStr, slog.LevelInfo.String()):
		return slog.LevelInfo, nil
	case strings.EqualFold(levelStr, slog.LevelWarn.String()), strings.EqualFold(levelStr, "warning"):
		return slog.LevelWarn, nil
	case strings.EqualFold(levelStr, slog.LevelError.String()):
		return slog.LevelError, nil
	}

	return DefaultLogLevel, fmt.Errorf("unknown level string: '%s', defaulting to LevelInfo", levelStr)
}

// New returns a slog logger writing to out through zerolog, either as JSON
// lines or in zerolog's console format.
func New(out io.Writer, level slog.Level, json bool) *slog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var zerologLogger zerolog.Logger
	if json {
		zerologLogger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		zerologLogger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.StampMicro,
		}).With().Timestamp().Logger()
	}

	return slog.New(
		slogzerolog.Option{
			Level:  level,
			Logger: &zerologLogger,
		}.NewZerologHandler(),
	)
}

// Configure builds a logger with New and makes it the slog default.
func Configure(out io.Writer, level slog.Level, json bool) *slog.Logger {
	var logger = New(out, level, json)
	slog.SetDefault(logger)
	return logger
}
