package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"posecall/internal/bootstrap"
	"posecall/internal/httpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	services, err := bootstrap.Build()
	if err != nil {
		return err
	}
	logger := services.Logger

	var host httpserver.RecognitionHost
	if services.Bridge != nil {
		host = services.Bridge
	}
	hub := httpserver.NewHub(services.Presenter, host, logger.Named("hub"))

	controller, err := services.NewController(hub)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go controller.Run(ctx)

	server := httpserver.New(controller, services.Catalog, services.Presenter, hub, logger.Named("http"))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(services.Config.HTTP.Addr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := services.Close(); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
