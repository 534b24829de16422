// Package flags holds the CLI flag definitions and setup helpers shared
// by the relay commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/oblink/outbound-relay/common"
	"github.com/oblink/outbound-relay/config"
	"github.com/oblink/outbound-relay/httpserver"
)

// ConfigureServer builds the HTTP server config from flags and the loaded
// deployment config.
func ConfigureServer(cCtx *cli.Context, cfg *config.Config, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.EnablePprof,
		MaxConcurrent:            cfg.Workers(),
		DrainDuration:            time.Duration(cfg.DrainSeconds) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              cfg.RelayTimeout + 30*time.Second,
		WriteTimeout:             cfg.RelayTimeout + 30*time.Second,
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to a YAML config file; flags override its values",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics, empty disables",
}

var CertsDirFlag = &cli.StringFlag{
	Name:  "certs-dir",
	Value: config.DefaultCertsDir,
	Usage: "root directory for certificate and key material",
}

var StrictVerifyFlag = &cli.BoolFlag{
	Name:  "strict-verify",
	Value: false,
	Usage: "require a CA bundle and enforce full TLS verification for mTLS destinations",
}

var RelayTimeoutFlag = &cli.DurationFlag{
	Name:  "relay-timeout",
	Value: 60 * time.Second,
	Usage: "total per-request budget for relayed requests",
}

var WorkerFactorFlag = &cli.IntFlag{
	Name:  "worker-factor",
	Value: 1,
	Usage: "concurrent relay calls per CPU core, minimum 2 in total",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
