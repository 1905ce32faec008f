package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/config"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/worker"
	"github.com/Jeffreasy/ZorgPoortIdentity/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	log := logger.Setup("janitor", env)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Error("required_env_missing", "name", "DATABASE_URL")
		os.Exit(1)
	}

	pool, err := storage.NewPostgresPool(context.Background(), cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.NewPostgresStore(pool)
	sweeper := worker.NewSweeper(store, log, clock.System{}, cfg.AuditLogRetentionDays)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("janitor_started", "interval", cfg.SweepInterval.String())
	sweeper.Run(ctx, cfg.SweepInterval)
	log.Info("janitor_shutdown")
}
