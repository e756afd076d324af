package payment_provider_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

// Amount is a money value as the provider encodes it.
type Amount struct {
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

// Payment is the provider's view of a payment.
type Payment struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      Amount            `json:"amount"`
	Description string            `json:"description"`
	CheckoutURL string            `json:"checkoutUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type CreatePaymentRequest struct {
	Amount      Amount            `json:"amount"`
	Description string            `json:"description"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
	WebhookURL  string            `json:"webhookUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// GetPayment fetches the current state of a payment.
func (c *PaymentProviderClient) GetPayment(ctx context.Context, providerPaymentID string) (*Payment, error) {
	body, err := c.Get(ctx, PaymentsEndpoint+"/"+url.PathEscape(providerPaymentID))
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", providerPaymentID, err)
	}
	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payment: %w", err)
	}
	return &p, nil
}

// CreatePayment opens a new payment and returns it with its checkout URL.
func (c *PaymentProviderClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}
	body, err := c.Post(ctx, PaymentsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payment: %w", err)
	}
	return &p, nil
}
