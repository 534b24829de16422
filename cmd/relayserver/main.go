// The relayserver command serves the outbound relay and signing API.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/oblink/outbound-relay/certstore"
	"github.com/oblink/outbound-relay/cmd/flags"
	"github.com/oblink/outbound-relay/common"
	"github.com/oblink/outbound-relay/config"
	"github.com/oblink/outbound-relay/httpserver"
	"github.com/oblink/outbound-relay/relay"
	"github.com/oblink/outbound-relay/signer"
)

var serverFlags []cli.Flag = []cli.Flag{
	flags.ConfigFlag,
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.CertsDirFlag,
	flags.StrictVerifyFlag,
	flags.RelayTimeoutFlag,
	flags.WorkerFactorFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:    "relayserver",
		Usage:   "Forward signed, TLS-authenticated API calls on behalf of callers",
		Version: common.Version,
		Flags:   serverFlags,
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cfg.LogDebug,
				JSON:    cfg.LogJSON,
				Service: cfg.LogService,
				Version: common.Version,
			})
			if cCtx.Bool(flags.LogUIDFlag.Name) {
				logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())
			}

			store, err := certstore.New(cfg.CertsDir, nil, logger)
			if err != nil {
				logger.Error("Failed to initialize certificate store", "err", err)
				return err
			}
			logger.Info("Certificate store initialized",
				"root", store.Root(), "strictVerify", cfg.StrictVerify)

			builder := relay.NewTLSBuilder(store, cfg.StrictVerify, logger)
			relayer := relay.New(builder, logger).WithTimeout(cfg.RelayTimeout)
			signingService := signer.New(store, logger)

			handler := httpserver.NewHandler(relayer, signingService, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, cfg, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig merges the config file (if given), environment overrides and
// explicitly set flags, in that order of increasing precedence.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := cCtx.String(flags.ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv(nil)

	if cCtx.IsSet(flags.ListenAddrFlag.Name) {
		cfg.ListenAddr = cCtx.String(flags.ListenAddrFlag.Name)
	}
	if cCtx.IsSet(flags.MetricsAddrFlag.Name) {
		cfg.MetricsAddr = cCtx.String(flags.MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(flags.CertsDirFlag.Name) {
		cfg.CertsDir = cCtx.String(flags.CertsDirFlag.Name)
	}
	if cCtx.IsSet(flags.StrictVerifyFlag.Name) {
		cfg.StrictVerify = cCtx.Bool(flags.StrictVerifyFlag.Name)
	}
	if cCtx.IsSet(flags.RelayTimeoutFlag.Name) {
		cfg.RelayTimeout = cCtx.Duration(flags.RelayTimeoutFlag.Name)
	}
	if cCtx.IsSet(flags.WorkerFactorFlag.Name) {
		cfg.WorkerFactor = cCtx.Int(flags.WorkerFactorFlag.Name)
	}
	if cCtx.IsSet(flags.PprofFlag.Name) {
		cfg.EnablePprof = cCtx.Bool(flags.PprofFlag.Name)
	}
	if cCtx.IsSet(flags.DrainSecondsFlag.Name) {
		cfg.DrainSeconds = cCtx.Int64(flags.DrainSecondsFlag.Name)
	}
	if cCtx.IsSet(flags.LogJSONFlag.Name) {
		cfg.LogJSON = cCtx.Bool(flags.LogJSONFlag.Name)
	}
	if cCtx.IsSet(flags.LogDebugFlag.Name) {
		cfg.LogDebug = cCtx.Bool(flags.LogDebugFlag.Name)
	}
	if cCtx.IsSet(flags.LogServiceFlag.Name) {
		cfg.LogService = cCtx.String(flags.LogServiceFlag.Name)
	}

	return cfg, nil
}
