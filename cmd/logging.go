package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// newLogger builds the CLI's logr sink. logr V(1) maps to zerolog debug and
// V(2) to trace.
func newLogger(cfg logConfig, out io.Writer) (logr.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return logr.Discard(), fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}

	writer := out
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return zerologr.New(&zl), nil
}
