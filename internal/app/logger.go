package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger for the given APP_ENV:
// EnvProd emits JSON at INFO for log shippers, everything else emits
// text at DEBUG so hub traffic is readable during development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == EnvProd {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler).With("service", "wegrim")
}
