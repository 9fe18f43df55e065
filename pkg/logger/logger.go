package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a structured logger for a service with RFC3339 timestamps.
func New(service string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger().Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
}
