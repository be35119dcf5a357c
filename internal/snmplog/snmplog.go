// Package snmplog builds the process-wide structured logger from the
// configured level/format, the way main.rs built its structured_logger
// from settings.logger before any other component started.
package snmplog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for the given level/format strings (as read
// from config.Logger). Unrecognized values fall back to info/console.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writer interface{ Write([]byte) (int, error) } = os.Stderr
	if !strings.EqualFold(format, "json") {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	lvl := parseLevel(level)
	if lvl == zerolog.Disabled {
		return zerolog.Nop()
	}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
