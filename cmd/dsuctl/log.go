package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zereker/dsu/internal/config"
)

// newLogger builds a console logger in development and a JSON logger otherwise.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// zlog adapts zerolog to dsu.Logger. Arguments are alternating keys and values.
type zlog struct {
	l zerolog.Logger
}

func (z zlog) Debug(msg string, args ...any) { z.l.Debug().Fields(fields(args)).Msg(msg) }
func (z zlog) Info(msg string, args ...any)  { z.l.Info().Fields(fields(args)).Msg(msg) }
func (z zlog) Warn(msg string, args ...any)  { z.l.Warn().Fields(fields(args)).Msg(msg) }
func (z zlog) Error(msg string, args ...any) { z.l.Error().Fields(fields(args)).Msg(msg) }

// fields renders Stringer values such as dsu.State by name. Errors are left
// to zerolog.
func fields(args []any) []any {
	out := make([]any, len(args))
	for i, v := range args {
		if _, isErr := v.(error); !isErr {
			if s, ok := v.(fmt.Stringer); ok {
				v = s.String()
			}
		}
		out[i] = v
	}
	return out
}
