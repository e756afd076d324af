package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/quizpot/go/internal/config"
	"github.com/mcdev12/quizpot/go/internal/dbconfig"
	"github.com/mcdev12/quizpot/go/internal/fraud"
	"github.com/mcdev12/quizpot/go/internal/gateway"
	"github.com/mcdev12/quizpot/go/internal/payment"
	"github.com/mcdev12/quizpot/go/internal/settlement"
	"github.com/mcdev12/quizpot/go/internal/timing"
)

type Services struct {
	Timing     *timing.Service
	Checkout   *payment.CheckoutService
	Webhook    *payment.WebhookHandler
	Admin      *settlement.AdminHandler
	Status     *gateway.WebSocketHandler
	Connection *gateway.ConnectionManager
}

func setupServices(pool *pgxpool.Pool, dbCfg dbconfig.Config, cfg config.Config, provider payment.Provider) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	// Settlement
	roundRepo := settlement.NewRepository(pool, dbCfg.LockTimeout)
	var hooks []settlement.Hook
	if cfg.Settlement.AutoRestart {
		hooks = append(hooks, settlement.RestartHook(roundRepo))
	}
	settlementApp := settlement.NewApp(roundRepo, fraud.NewValidator(cfg.Fraud), clock, cfg.Settlement, hooks...)

	// Timing
	timingRepo := timing.NewRepository(pool)
	answers := timing.NewAnswerKeyRepository(pool)
	timingApp := timing.NewApp(timingRepo, roundRepo, answers, settlementApp, clock, cfg.Timing)

	// Payment
	paymentRepo := payment.NewRepository(pool, dbCfg.LockTimeout)
	reconciler := payment.NewReconciler(provider, paymentRepo, timingApp, settlementApp)
	allow, err := payment.NewAllowList(cfg.Payment.AllowedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook allow-list: %w", err)
	}
	webhook := payment.NewWebhookHandler(reconciler, payment.NewRetryRepository(pool), allow, clock, cfg.Payment)
	checkoutApp := payment.NewCheckoutApp(paymentRepo, payment.NewDiscountRepository(pool), provider, cfg.Payment.Checkout)

	// Gateway
	connections := gateway.NewConnectionManager(timingApp, clock, cfg.Gateway)

	return &Services{
		Timing:     timing.NewService(timingApp, clock),
		Checkout:   payment.NewCheckoutService(checkoutApp),
		Webhook:    webhook,
		Admin:      settlement.NewAdminHandler(settlementApp, cfg.Server.AdminToken),
		Status:     gateway.NewWebSocketHandler(connections),
		Connection: connections,
	}, nil
}
