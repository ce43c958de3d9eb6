package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ButterJack07/Momentmap-web-final/internal/server"
	"github.com/ButterJack07/Momentmap-web-final/pkg/config"
	"github.com/ButterJack07/Momentmap-web-final/pkg/logging"
)

func main() {
	configName := pflag.String("config", "config", "config file name (without extension), searched in the working directory")
	logLevel := pflag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	pflag.Parse()

	logger := logging.New(slog.LevelInfo)

	cfg, err := config.Load(logger, *configName)
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	level := cfg.App.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger = logging.New(logging.ParseLevel(level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(logger, ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
