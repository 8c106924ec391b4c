package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"quorum/internal/app"
	"quorum/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("QUORUM_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	builder := &app.Builder{ConfigPath: cfgPath}
	a, err := builder.Build(ctx)
	if err != nil {
		log.Fatalf("building application failed: %v", err)
	}

	logger.Infof("quorum starting, config=%s", cfgPath)
	if err := a.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
	logger.Infof("quorum stopped")
}
