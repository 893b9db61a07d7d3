package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/phish-filter/internal/core"
	"github.com/mikey/phish-filter/internal/di"
	"github.com/mikey/phish-filter/internal/ports"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	services di.Services,
	classifier core.Classifier,
	store core.MessageStore,
	notifier ports.Notifier,
) error {
	defer logger.Sync()

	// Start the server and, when enabled, the poller
	for i, svc := range services {
		if err := svc.Start(); err != nil {
			logger.Error("Failed to start service", zap.Error(err))
			stopAll(logger, services[:i])
			return err
		}
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	stopAll(logger, services)

	if err := notifier.Close(); err != nil {
		logger.Error("Failed to close notifier", zap.Error(err))
	}

	// Close any resources that need closing
	if closer, ok := classifier.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier", zap.Error(err))
		}
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close message store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// stopAll stops services in reverse start order
func stopAll(logger *zap.Logger, services di.Services) {
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(); err != nil {
			logger.Error("Failed to stop service", zap.Error(err))
		}
	}
}
