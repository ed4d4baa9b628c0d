// Package logging constructs the process-wide zerolog logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger appropriate for the environment: human-readable
// console output in development, JSON elsewhere.
func New(environment, level string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	if environment == "development" {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(writer).Level(logLevel).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(logLevel).With().Timestamp().Logger()
}
