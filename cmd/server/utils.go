package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// PrintVersion prints version information
func PrintVersion(logger *zap.Logger) {
	logger.Info("Certificate Verification Engine",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("build_time", BuildTime))
}

// Lifecycle is a server that can be started and gracefully stopped
type Lifecycle interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Run starts srv and blocks until SIGINT/SIGTERM or a server failure, then
// shuts down within timeout
func Run(srv Lifecycle, timeout time.Duration, logger *zap.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	return runUntil(srv, sigChan, timeout, logger)
}

func runUntil(srv Lifecycle, sigChan <-chan os.Signal, timeout time.Duration, logger *zap.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-errChan:
		if serveErr == nil {
			return nil
		}
		logger.Error("Server failed", zap.Error(serveErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Error during graceful shutdown", zap.Error(err))
		if serveErr == nil {
			return err
		}
	}
	return serveErr
}
