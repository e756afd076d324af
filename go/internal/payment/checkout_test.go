package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizpot/go/clients"
	ppc "github.com/mcdev12/quizpot/go/clients/payment_provider_client"
	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
)

func TestComputeAmount(t *testing.T) {
	tests := []struct {
		fee, pct, want string
	}{
		{"10.00", "0", "10.00"},
		{"10.00", "25", "7.50"},
		{"9.99", "33", "6.69"},
		{"10.00", "100", "0.00"},
		{"10.00", "150", "0.00"},
		{"10.00", "-5", "10.00"},
	}
	for _, tt := range tests {
		got := ComputeAmount(decimal.RequireFromString(tt.fee), decimal.RequireFromString(tt.pct))
		assert.Equal(t, tt.want, got.StringFixed(2), "fee %s pct %s", tt.fee, tt.pct)
	}
}

func pausedParticipant() *models.Participant {
	return &models.Participant{
		ID:            10,
		RoundID:       1,
		UserID:        "user-1",
		Status:        models.ParticipantStatusPaymentPending,
		PaymentStatus: models.ParticipantPaymentPending,
	}
}

func activeRound() *models.Round {
	return &models.Round{
		ID:         1,
		Status:     models.RoundStatusActive,
		MaxPlayers: 4,
		EntryFee:   decimal.RequireFromString("10.00"),
		Currency:   "EUR",
	}
}

func TestCreateCheckout(t *testing.T) {
	store := &fakeCheckoutStore{participant: pausedParticipant(), round: activeRound()}
	provider := newFakeProvider()
	cfg := DefaultConfig().Checkout
	cfg.WebhookURL = "https://quiz.example/webhook/payment"
	app := NewCheckoutApp(store, fixedDiscount(decimal.NewFromInt(25)), provider, cfg)

	checkout, err := app.CreateCheckout(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example/checkout", checkout.CheckoutURL)
	assert.Equal(t, "7.50", checkout.Payment.Amount.StringFixed(2))
	assert.Equal(t, "EUR", checkout.Payment.Currency)
	assert.Equal(t, models.PaymentStatusCreated, checkout.Payment.Status)
	assert.Equal(t, "tr_1", checkout.Payment.ProviderPaymentID)

	require.Len(t, provider.created, 1)
	req := provider.created[0]
	assert.Equal(t, "7.50", req.Amount.Value.StringFixed(2))
	assert.Equal(t, "Quiz entry", req.Description)
	assert.Equal(t, cfg.WebhookURL, req.WebhookURL)
	assert.Equal(t, map[string]string{"participant_id": "10", "round_id": "1"}, req.Metadata)
	require.Len(t, store.stored, 1)
}

func TestCreateCheckoutRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not paused", func(t *testing.T) {
		p := pausedParticipant()
		p.Status = models.ParticipantStatusRunning
		app := NewCheckoutApp(&fakeCheckoutStore{participant: p, round: activeRound()}, fixedDiscount(decimal.Zero), newFakeProvider(), CheckoutConfig{})
		_, err := app.CreateCheckout(ctx, 10)
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("already paid", func(t *testing.T) {
		p := pausedParticipant()
		p.PaymentStatus = models.ParticipantPaymentPaid
		app := NewCheckoutApp(&fakeCheckoutStore{participant: p, round: activeRound()}, fixedDiscount(decimal.Zero), newFakeProvider(), CheckoutConfig{})
		_, err := app.CreateCheckout(ctx, 10)
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("round completed", func(t *testing.T) {
		r := activeRound()
		r.Status = models.RoundStatusCompleted
		app := NewCheckoutApp(&fakeCheckoutStore{participant: pausedParticipant(), round: r}, fixedDiscount(decimal.Zero), newFakeProvider(), CheckoutConfig{})
		_, err := app.CreateCheckout(ctx, 10)
		assert.ErrorIs(t, err, apperr.ErrRoundNotActive)
	})

	t.Run("unknown participant", func(t *testing.T) {
		app := NewCheckoutApp(&fakeCheckoutStore{}, fixedDiscount(decimal.Zero), newFakeProvider(), CheckoutConfig{})
		_, err := app.CreateCheckout(ctx, 99)
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("provider unavailable", func(t *testing.T) {
		provider := newFakeProvider()
		provider.createFn = func(ppc.CreatePaymentRequest) (*ppc.Payment, error) {
			return nil, &clients.StatusError{StatusCode: 502}
		}
		store := &fakeCheckoutStore{participant: pausedParticipant(), round: activeRound()}
		app := NewCheckoutApp(store, fixedDiscount(decimal.Zero), provider, CheckoutConfig{})
		_, err := app.CreateCheckout(ctx, 10)
		assert.True(t, apperr.IsTransient(err))
		assert.Empty(t, store.stored)
	})
}
