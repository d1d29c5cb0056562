package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/config"
)

// New builds the process logger. Pretty output is meant for terminals;
// everything else gets one JSON object per line.
func New(cfg config.LogConfig) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
