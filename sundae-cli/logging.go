package sundaecli

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger returns the service logger. Output is JSON unless --log-format is
// console.
func Logger(service Service) zerolog.Logger {
	var w io.Writer = os.Stdout
	if CommonOpts.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service", service.Name).
		Str("version", service.Version).
		Logger()
}
