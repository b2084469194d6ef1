package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"timedsend/internal/config"
)

// New builds the process logger writing to stderr. Console output is the
// default; format "json" writes one JSON object per line.
func New(cfg config.LogConfig, service string) zerolog.Logger {
	return newLogger(cfg, service, os.Stderr)
}

func newLogger(cfg config.LogConfig, service string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	w := out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", service).Logger()
}
