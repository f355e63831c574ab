package notaryd

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the service's structured logger: human-readable console
// output in debug mode, newline-delimited JSON otherwise — the shape every
// long-running daemon in this stack emits for ingestion by a log collector.
func NewLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var writer = os.Stderr
	if debug {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}).
			Level(level).
			With().Timestamp().Logger()
	}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
