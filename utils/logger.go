package utils

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger provides leveled, printf-style logging throughout the application.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger writing to stdout. LOG_LEVEL=debug enables
// debug output.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a Logger writing human-readable lines to w.
func NewLoggerTo(w io.Writer) *Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}
	level := zerolog.InfoLevel
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = zerolog.DebugLevel
	}
	return &Logger{zl: zerolog.New(out).Level(level).With().Timestamp().Logger()}
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}
