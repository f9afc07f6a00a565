// Package logging wires up the structured zerolog logger shared by every
// component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds the root structured logger. Every component derives its own
// child logger from this one via .With().Str("component", "...").Logger().
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if opts.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "eloward-bot").
		Logger()
}
