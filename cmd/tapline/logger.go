package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
)

// newLogger builds the console logger for the given -v count.
func newLogger(w io.Writer, verbosity int) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case verbosity == 1:
		level = zerolog.InfoLevel
	case verbosity >= 2:
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
	if verbosity >= 2 {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// zerologAdapter satisfies config.Logger on top of zerolog.
type zerologAdapter struct {
	l zerolog.Logger
}

var _ config.Logger = zerologAdapter{}

func (z zerologAdapter) Debug(msg string, keysAndValues ...interface{}) {
	z.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (z zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	z.l.Info().Fields(keysAndValues).Msg(msg)
}

func (z zerologAdapter) Warn(msg string, keysAndValues ...interface{}) {
	z.l.Warn().Fields(keysAndValues).Msg(msg)
}

func (z zerologAdapter) Error(msg string, keysAndValues ...interface{}) {
	z.l.Error().Fields(keysAndValues).Msg(msg)
}
