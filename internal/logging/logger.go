package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// New creates a zerolog logger. Unknown levels fall back to warn. When json
// is false the output is rendered for humans.
func New(logLevel LogLevel, output io.Writer, json bool) zerolog.Logger {
	if output == nil {
		output = os.Stderr
	}

	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil || logLevel == "" {
		level = zerolog.WarnLevel
	}

	if !json {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Nop returns a logger that discards everything
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
