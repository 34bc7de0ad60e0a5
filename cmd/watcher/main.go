package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/resourcewatch/aggregator/internal/api/server"
	"github.com/resourcewatch/aggregator/internal/app"
)

func main() {
	fxApp := fx.New(
		app.Module,
		fx.Invoke(startServer),
	)

	fxApp.Run()
}

func startServer(srv *server.Server, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	logger.Info("Starting resource-watch aggregator")
	if err := srv.Start(ctx); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		os.Exit(1)
	}
}
