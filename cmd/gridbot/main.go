// Command gridbot runs a grid trading session against the exchange. It loads
// configuration, validates it, sets up logging and signal handling, and
// starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/gridbot/internal/app"
	"github.com/alanyoungcy/gridbot/internal/config"
	"github.com/alanyoungcy/gridbot/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for env only)")
	mode := flag.String("mode", "", "override the configured mode: trade, dryrun or feed")
	flag.Parse()

	if err := run(*configPath, *mode); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, mode string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if mode != "" {
		cfg.Mode = mode
	}

	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	logger.Info("gridbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("gridbot stopped")
	return nil
}
