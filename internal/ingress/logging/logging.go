package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// NewLogger returns the default ingress logger: human readable output on stderr at info level.
func NewLogger() *zerolog.Logger {
	return NewLoggerWithOptions(os.Stderr, FormatConsole, zerolog.InfoLevel)
}

// NewLoggerWithOptions builds a logger writing to out and installs it as the global logger.
func NewLoggerWithOptions(out io.Writer, format string, level zerolog.Level) *zerolog.Logger {
	w := out
	if format != FormatJSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return &logger
}

// ParseLevel accepts zerolog level names; an empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}
