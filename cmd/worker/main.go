package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go-receipt-forensics/internal/config"
	"go-receipt-forensics/internal/container"
	"go-receipt-forensics/internal/logger"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Queue.URL == "" {
		log.Fatal("QUEUE_URL must be set")
	}

	c, err := container.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Close()

	consumer, err := c.Consumer()
	if err != nil {
		log.Fatalf("Failed to create queue consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil {
		logger.WithError(err).Error("Queue consumer stopped")
	}
	logger.Info("Worker exited")
}
