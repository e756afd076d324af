package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/config"
	"github.com/mcdev12/quizpot/go/internal/dbconfig"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := setupDatabase(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("setup database")
	}
	defer pool.Close()

	provider, err := setupProvider(cfg.Provider)
	if err != nil {
		log.Fatal().Err(err).Msg("setup payment provider")
	}
	if cfg.Payment.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is not set, every webhook will be rejected")
	}

	services, err := setupServices(pool, dbCfg, cfg, provider)
	if err != nil {
		log.Fatal().Err(err).Msg("setup services")
	}
	server := setupServer(services, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Bool("auto_restart", cfg.Settlement.AutoRestart).Msg("quiz server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Interface("connections", services.Connection.Stats()).Msg("quiz server stopped")
}
