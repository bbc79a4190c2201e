// Package logger is the process-wide leveled logger used by the provider
// service and carbonctl. It writes zerolog JSON lines unless switched to the
// console writer.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	}
	return zerolog.InfoLevel
}

// Init sets the minimum level. Call it before anything logs.
func Init(level string) {
	mu.Lock()
	base = base.Level(ParseLevel(level))
	mu.Unlock()
}

// SetFormat selects "json" (default) or "console" output on stdout.
func SetFormat(format string) {
	SetOutput(os.Stdout, format)
}

// SetOutput redirects log lines to w, keeping the current level.
func SetOutput(w io.Writer, format string) {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	mu.Lock()
	base = zerolog.New(w).With().Timestamp().Logger().Level(base.GetLevel())
	mu.Unlock()
}

// Level reports the current minimum level.
func Level() zerolog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return base.GetLevel()
}

// Get returns the underlying logger for callers that add structured fields.
func Get() *zerolog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	return &l
}

func Debugf(format string, v ...interface{}) { Get().Debug().Msgf(format, v...) }
func Infof(format string, v ...interface{})  { Get().Info().Msgf(format, v...) }
func Warnf(format string, v ...interface{})  { Get().Warn().Msgf(format, v...) }
func Errorf(format string, v ...interface{}) { Get().Error().Msgf(format, v...) }

// Fatalf logs and exits with status 1 whatever the level.
func Fatalf(format string, v ...interface{}) {
	Get().WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	os.Exit(1)
}
