package logger

import (
	"log/slog"
	"os"
)

// Setup configures the process-wide logger for the given service and
// environment. Production gets JSON output for log aggregators; everything
// else gets human-readable text at debug level. The returned logger is also
// installed as the slog default so library code picks it up.
func Setup(service, env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	return logger
}
