package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/api"
	"github.com/acme/softdialer/internal/app"
	"github.com/acme/softdialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer func() { _ = container.Close() }()
	lg := container.Logger

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "api")
	if err != nil {
		lg.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		lg.Warn("failed to ensure kafka topics", zap.Error(err))
	}

	handlerSet, err := container.HandlerSet()
	if err != nil {
		lg.Fatal("failed to build handlers", zap.Error(err))
	}

	services, err := container.Services()
	if err != nil {
		lg.Fatal("failed to build services", zap.Error(err))
	}
	loaded, err := services.Call.LoadRoster(ctx)
	if err != nil {
		lg.Fatal("failed to load agent roster", zap.Error(err))
	}
	lg.Info("agent roster loaded", zap.Int("agents", loaded))

	orchestrator, err := container.Orchestrator()
	if err != nil {
		lg.Fatal("failed to build orchestrator", zap.Error(err))
	}
	go func() {
		if err := orchestrator.RunSweeper(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("call metadata sweeper stopped", zap.Error(err))
		}
	}()

	server := api.NewServer(container.Config.HTTP, container.Config.App.Name, handlerSet)
	lg.Info("starting http server", zap.Int("port", container.Config.HTTP.Port))
	if err := server.Start(ctx); err != nil {
		lg.Error("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
