package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/beyondbrewing/pebbledis/config"
	"github.com/beyondbrewing/pebbledis/engine"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
)

func main() {
	logger.SetDefault(logger.MustProduction())
	defer logger.SyncDefault()

	configPath := flag.String("config", "", "optional config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := engine.Open(cfg, logger.Default())
	if err != nil {
		logger.Fatal("failed to open storage engine", "error", err)
	}

	logger.Default().Info("storage engine ready", "db_path", cfg.DBPath)

	<-ctx.Done()

	if err := store.Close(); err != nil {
		logger.Fatal("shutdown error", "error", err)
	}
}
