// Package logger configures the process-wide zerolog logger and keeps a
// ring buffer of recent entries for the logs endpoint.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger with log buffer capture.
func Setup(level, format string) {
	setup(os.Stdout, level, format, GetBuffer())
}

func setup(out io.Writer, level, format string, buf *LogBuffer) {
	zerolog.SetGlobalLevel(parseLevel(level))

	// The buffer always receives the JSON line, even when the terminal
	// gets the console rendering.
	var base io.Writer = out
	if strings.ToLower(format) == "console" {
		base = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	output := zerolog.MultiLevelWriter(base, &LogBufferWriter{buffer: buf})

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns a logger with the given component name
func Get(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
