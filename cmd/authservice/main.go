package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/config"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/gdpr"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/notify"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/telemetry"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
	"github.com/Jeffreasy/ZorgPoortIdentity/pkg/logger"
)

func main() {
	// Env files are for local dev; in production the platform injects vars.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	log := logger.Setup("auth-service", env)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	log.Info("application_startup", "env", cfg.Env)

	flush := telemetry.Init("auth-service", cfg.Env, os.Getenv("SENTRY_DSN"), log)
	defer flush()

	for name, v := range map[string]string{
		"DATABASE_URL":        cfg.DatabaseURL,
		"JWT_ACCESS_SECRET":   cfg.JWTAccessSecret,
		"JWT_REFRESH_SECRET":  cfg.JWTRefreshSecret,
		"EMAIL_TOKEN_SECRET":  cfg.EmailTokenSecret,
		"INTERNAL_API_SECRET": cfg.InternalAPISecret,
	} {
		if v == "" {
			log.Error("required_env_missing", "name", name)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	pool, err := storage.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database_connected")

	store := storage.NewPostgresStore(pool)
	clk := clock.System{}

	codec := token.NewCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenExpires, cfg.RefreshTokenExpires, clk)
	magic := token.NewOutOfBand(cfg.EmailTokenSecret, cfg.VerificationTokenExpiry, cfg.ResetTokenExpiry, cfg.MagicLinkTokenExpiry, clk)
	hasher := auth.NewBcryptHasher()
	recorder := audit.NewDBRecorder(store, log, clk)
	mail := notify.NewEmailClient(cfg.EmailServiceURL, cfg.InternalAPISecret, log)

	authSvc := auth.NewService(store, hasher, codec, magic, recorder, mail, log, clk)
	gdprSvc := gdpr.NewService(store, recorder, mail, hasher, log, clk)

	handler := api.NewHandler(authSvc, gdprSvc, store, recorder, cfg, log)
	router := api.NewRouter(handler, func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			_ = srv.Close()
		}

		pool.Close()
		log.Info("server_shutdown_complete")
	}
}
