package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/api"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/auth"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/config"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/db"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/notification"
	redisclient "github.com/lachachiyasmine/medical-consultation-app-backend/internal/redis"
)

const version = "0.1.0"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	logger.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	dispatcher := buildDispatcher(cfg, repo, logger)
	svc := booking.NewService(repo, locker, dispatcher, logger)
	authManager := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Auth:    authManager,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}

// buildDispatcher assembles the notification channels from config. Without
// provider credentials the structured log is the only channel.
func buildDispatcher(cfg config.Config, repo booking.Repository, logger zerolog.Logger) booking.Dispatcher {
	channels := []booking.Dispatcher{notification.NewLogDispatcher(logger)}

	if cfg.SendgridAPIKey != "" {
		channels = append(channels, notification.NewEmailDispatcher(cfg.SendgridAPIKey, cfg.EmailFrom, repo))
	}
	if cfg.TwilioSID != "" && cfg.TwilioToken != "" {
		channels = append(channels, notification.NewSMSDispatcher(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom, repo))
	}

	return notification.NewFanout(channels...)
}
