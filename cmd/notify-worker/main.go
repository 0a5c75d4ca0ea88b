package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/config"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/db"
	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/notification"
)

// notify-worker re-dispatches notification records whose inline handoff never
// completed. Together with the transactional outbox rows this gives
// at-least-once delivery without the API process owning retries.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "notify-worker").Logger()
	logger.Info().Msg("notify-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().Str("env", cfg.Env).Str("cron", cfg.NotifyCron).Msg("configuration loaded")

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

	repo := booking.NewPgRepository(pgPool)

	channels := []booking.Dispatcher{notification.NewLogDispatcher(logger)}
	if cfg.SendgridAPIKey != "" {
		channels = append(channels, notification.NewEmailDispatcher(cfg.SendgridAPIKey, cfg.EmailFrom, repo))
	}
	if cfg.TwilioSID != "" && cfg.TwilioToken != "" {
		channels = append(channels, notification.NewSMSDispatcher(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom, repo))
	}

	outbox := notification.NewOutbox(repo, notification.NewFanout(channels...), cfg.DispatchBatch, logger)

	runOnce(rootCtx, outbox, logger)

	c := cron.New()
	if _, err := c.AddFunc(cfg.NotifyCron, func() {
		runOnce(rootCtx, outbox, logger)
	}); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.NotifyCron).Msg("invalid NOTIFY_CRON spec")
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping notify-worker")

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func runOnce(ctx context.Context, outbox *notification.Outbox, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := outbox.RunOnce(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("outbox run error")
		return
	}
	logger.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("outbox run complete")
}
