package bootstrap

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/rs/zerolog"
)

// NewLogger builds the process logger from the log section. "console" switches to
// human-readable output on stderr; anything else logs JSON to stdout.
func NewLogger(cfg config.LogConfig, component string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return newLogger(out, cfg.Level, component)
}

func newLogger(out io.Writer, level, component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("component", component).Logger()
}
