// Package common holds shared infrastructure used by every command:
// logger construction and build identification.
package common

import (
	"log/slog"
	"os"
)

// PackageName identifies this service in logs and metrics.
const PackageName = "outbound-relay"

// Version is the service version, overridden at build time via ldflags.
var Version = "dev"

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug lowers the log level to debug.
	Debug bool

	// JSON selects JSON output instead of logfmt-style text.
	JSON bool

	// Service is added to every record as the 'service' attribute.
	Service string

	// Version is added to every record as the 'version' attribute.
	Version string
}

// SetupLogger creates a slog.Logger writing to stdout according to opts.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
