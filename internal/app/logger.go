package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production always emits JSON for the
// log pipeline regardless of LOG_FORMAT; elsewhere the text handler is
// easier to read. Every record carries the env attribute so mixed streams
// stay attributable.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg.IsProduction() || (cfg != nil && cfg.LogFormat == "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	if cfg != nil {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}
