package prettylog

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// SetupPrettyLogger installs a charmbracelet/log handler as the slog default
// and returns it. debug enables debug records, verbose keeps info records;
// otherwise only warnings and errors are shown.
func SetupPrettyLogger(writerForLogger io.Writer, debug, verbose bool) *log.Logger {
	level := log.WarnLevel
	switch {
	case debug:
		level = log.DebugLevel
	case verbose:
		level = log.InfoLevel
	}

	logHandler := log.NewWithOptions(
		writerForLogger,
		log.Options{
			Level:           level,
			ReportTimestamp: true,
			ReportCaller:    debug,
			Prefix:          "hotreload",
		},
	)
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	return logHandler
}
