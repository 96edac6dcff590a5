package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-presence-api/pkg/config"
	"github.com/noah-isme/sma-presence-api/pkg/database"
	"github.com/noah-isme/sma-presence-api/pkg/logger"
)

func main() {
	var direction string
	flag.StringVar(&direction, "direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := database.Migrate(database.URL(cfg.Database), direction); err != nil {
		logr.Fatal("migration failed", zap.String("direction", direction), zap.Error(err))
	}
	logr.Info("migration complete", zap.String("direction", direction))
}
