// Package logger builds the zerolog root logger that every component
// derives its own child logger from.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output for development
}

// New builds the root logger and sets the global level. Unknown level
// strings fall back to info rather than failing startup.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(writer(cfg.Pretty)).
		With().
		Timestamp().
		Caller().
		Logger()
}

func writer(pretty bool) io.Writer {
	if pretty {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	return os.Stdout
}
