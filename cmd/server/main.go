package main

import (
	"flag"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/logging"
	"github.com/certfolio/verification-engine/internal/server"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "config/config.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	bootLogger := mustLogger(logging.ForEnvironment(os.Getenv(config.EnvPrefix + "_ENVIRONMENT")))

	if showVersion {
		PrintVersion(bootLogger)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	_ = bootLogger.Sync()

	logger := mustLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting certificate verification engine",
		zap.String("config_path", configPath),
		zap.String("version", Version),
		zap.String("environment", cfg.Environment))

	srv, err := server.New(cfg, logger, Version)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if err := Run(srv, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func mustLogger(cfg logging.Config) *zap.Logger {
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}
