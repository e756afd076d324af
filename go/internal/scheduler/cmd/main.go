package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	ppc "github.com/mcdev12/quizpot/go/clients/payment_provider_client"
	"github.com/mcdev12/quizpot/go/internal/config"
	"github.com/mcdev12/quizpot/go/internal/dbconfig"
	"github.com/mcdev12/quizpot/go/internal/fraud"
	"github.com/mcdev12/quizpot/go/internal/payment"
	"github.com/mcdev12/quizpot/go/internal/scheduler"
	"github.com/mcdev12/quizpot/go/internal/settlement"
	"github.com/mcdev12/quizpot/go/internal/timing"
)

type workers struct {
	retry   *payment.RetryWorker
	sweeper *scheduler.Sweeper
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := dbconfig.OpenPool(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	if cfg.Provider.URL == "" {
		log.Fatal().Msg("PAYMENT_PROVIDER_URL is required")
	}
	provider := ppc.NewPaymentProviderClient(cfg.Provider.URL, cfg.Provider.APIKey)

	w := setupWorkers(pool, dbCfg, cfg, provider)

	log.Info().
		Dur("retry_poll_interval", cfg.Payment.Worker.PollInterval).
		Dur("sweep_interval", cfg.Timing.SweepInterval).
		Msg("starting scheduler")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := w.retry.Run(ctx); err != nil {
			log.Error().Err(err).Msg("payment retry worker stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.sweeper.Run(ctx); err != nil {
			log.Error().Err(err).Msg("expiry sweeper stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	wg.Wait()
	log.Info().Msg("scheduler shutdown complete")
}

func setupWorkers(pool *pgxpool.Pool, dbCfg dbconfig.Config, cfg config.Config, provider payment.Provider) workers {
	clock := clockwork.NewRealClock()

	roundRepo := settlement.NewRepository(pool, dbCfg.LockTimeout)
	var hooks []settlement.Hook
	if cfg.Settlement.AutoRestart {
		hooks = append(hooks, settlement.RestartHook(roundRepo))
	}
	settlementApp := settlement.NewApp(roundRepo, fraud.NewValidator(cfg.Fraud), clock, cfg.Settlement, hooks...)

	timingApp := timing.NewApp(
		timing.NewRepository(pool), roundRepo, timing.NewAnswerKeyRepository(pool),
		settlementApp, clock, cfg.Timing,
	)

	reconciler := payment.NewReconciler(provider, payment.NewRepository(pool, dbCfg.LockTimeout), timingApp, settlementApp)

	return workers{
		retry:   payment.NewRetryWorker(payment.NewRetryRepository(pool), reconciler, cfg.Payment.Retry, clock, cfg.Payment.Worker),
		sweeper: scheduler.NewSweeper(timingApp, clock, cfg.Timing.SweepInterval),
	}
}
