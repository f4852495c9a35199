package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/efeuentertainment/vigiclient/internal/config"
	"github.com/efeuentertainment/vigiclient/internal/mixer"
	"github.com/efeuentertainment/vigiclient/internal/system"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "vigiclient"
	app.Usage = "drive the robot outputs from the control stations"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "configs/config.yaml",
			Usage: "path to the configuration file",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "development logging at debug level",
		},
		cli.BoolFlag{
			Name:  "dry-run",
			Usage: "record hardware writes instead of driving pins",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(c *cli.Context) error {
	logger, err := newLogger(c.GlobalBool("debug"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	loader := config.NewLoader(c.GlobalString("config"))
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if c.GlobalBool("dry-run") {
		cfg.Robot.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	logger.Info("Config loaded successfully",
		zap.String("path", loader.Path()),
		zap.String("profile", cfg.Robot.ProfilePath))

	lifecycle, err := system.NewLifecycleManager(cfg, loader, version, logger)
	if err != nil {
		logger.Fatal("Failed to initialize system", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		if errors.Is(err, mixer.ErrConfiguration) {
			logger.Fatal("Hardware profile rejected", zap.Error(err))
		}
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("vigiclient started successfully",
		zap.String("version", version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Shutdown requested over the API")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("vigiclient stopped successfully")
	return nil
}
