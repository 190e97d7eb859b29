package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured logger for one crank component. Level
// comes from CRANK_LOG_LEVEL (default info); CRANK_LOG_FORMAT=console
// switches to human-readable output for local runs, JSON otherwise.
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("CRANK_LOG_LEVEL"))

	var out io.Writer = os.Stdout
	if os.Getenv("CRANK_LOG_FORMAT") == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "perpcrank").
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
