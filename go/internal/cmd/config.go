package main

import (
	"errors"

	ppc "github.com/mcdev12/quizpot/go/clients/payment_provider_client"
	"github.com/mcdev12/quizpot/go/internal/config"
)

func setupProvider(cfg config.ProviderConfig) (*ppc.PaymentProviderClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("PAYMENT_PROVIDER_URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("PAYMENT_PROVIDER_API_KEY is required")
	}
	return ppc.NewPaymentProviderClient(cfg.URL, cfg.APIKey), nil
}
