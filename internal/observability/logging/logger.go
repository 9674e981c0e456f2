// Package logging builds the service's zerolog loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns a JSON logger tagged with service, or a console logger in
// development. It also installs the logger as the zerolog global so
// packages without an injected logger write through it.
func New(service, level, environment string) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, level, environment)
}

func NewWithWriter(out io.Writer, service, level, environment string) zerolog.Logger {
	if strings.EqualFold(strings.TrimSpace(environment), "development") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = logger
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
