// Package logging configures the service's structured logger and provides
// a small Printf-shaped adapter for call sites written against a
// component-name-plus-level-methods logging convention.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process-wide zerolog.Logger from LOG_LEVEL/LOG_FILE.
func New(level, file string) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	if file != "" {
		if f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			out = io.MultiWriter(out, f)
		}
	}

	zl := zerolog.New(out).With().Timestamp().Logger()
	zl = zl.Level(parseLevel(level))
	return zl
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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

// Logger is a thin Printf-style facade over zerolog.Logger
// (Debug/Info/Warn/Error with a format string and variadic args) so
// call sites need no changes beyond their constructor wiring.
type Logger struct {
	component string
	zl        zerolog.Logger
}

// Component returns a Logger scoped to the given component name, attached
// as a structured field rather than a string prefix.
func Component(zl zerolog.Logger, name string) *Logger {
	return &Logger{component: name, zl: zl.With().Str("component", name).Logger()}
}

func (l *Logger) Debug(format string, v ...interface{}) { l.zl.Debug().Msgf(format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.zl.Info().Msgf(format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.zl.Warn().Msgf(format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.zl.Error().Msgf(format, v...) }
func (l *Logger) Fatal(format string, v ...interface{}) { l.zl.Fatal().Msgf(format, v...) }

// Raw exposes the underlying zerolog.Logger for components that want
// structured fields instead of the Printf facade.
func (l *Logger) Raw() zerolog.Logger { return l.zl }
