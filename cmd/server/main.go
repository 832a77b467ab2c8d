// Command ogf-server starts the OpenGovFood HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/opengovfood/opengovfood/internal/app"
	"github.com/opengovfood/opengovfood/internal/config"
	"github.com/opengovfood/opengovfood/internal/obs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "path to a YAML or .env config file (environment overrides it)")
	doSeed := flag.Bool("seed", false, "insert demo data into an empty database before serving")
	migrateOnly := flag.Bool("migrate-only", false, "apply migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.HTTP.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if err := app.Migrate(ctx, cfg, logger.Named("migrate")); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		logger.Info("migrations applied")
		return
	}

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	if *doSeed {
		if _, err := a.Seed(ctx); err != nil {
			logger.Fatal("seed", zap.Error(err))
		}
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
}
