package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs a stderr console logger tagged with app as the global
// zerolog logger.
func InitLogger(app string, timestamp, noColor bool) zerolog.Logger {
	return InitLoggerTo(os.Stderr, app, timestamp, noColor)
}

func InitLoggerTo(out io.Writer, app string, timestamp, noColor bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	ctx := zerolog.New(output).With().Str("app", app)
	if timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
