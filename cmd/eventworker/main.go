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

	"github.com/acme/softdialer/internal/app"
	"github.com/acme/softdialer/internal/telemetry"
	eventworker "github.com/acme/softdialer/internal/worker/event"
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

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "event-worker")
	if err != nil {
		lg.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		lg.Fatal("failed to ensure kafka topics", zap.Error(err))
	}

	repos, err := container.Repositories()
	if err != nil {
		lg.Fatal("failed to build repositories", zap.Error(err))
	}

	cfg := container.Config.Kafka
	reader := container.Kafka.NewReader(cfg.EventTopic, cfg.ConsumerGroupID)
	worker := eventworker.New(reader, repos.CallEvents, repos.CallRecords, lg)

	lg.Info("event worker started", zap.String("topic", cfg.EventTopic), zap.String("group", cfg.ConsumerGroupID))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("worker terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
