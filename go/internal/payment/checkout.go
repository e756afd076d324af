package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	ppc "github.com/mcdev12/quizpot/go/clients/payment_provider_client"
	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
)

var hundred = decimal.NewFromInt(100)

// CheckoutStore defines what checkout needs from storage.
type CheckoutStore interface {
	GetParticipant(ctx context.Context, participantID int64) (*models.Participant, error)
	GetRound(ctx context.Context, roundID int64) (*models.Round, error)
	// CreatePayment stores the payment and resets a failed, cancelled or
	// expired participant payment status to pending in one transaction.
	CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, error)
}

// DiscountSource reads a user's discount percentage. It is read-only here.
type DiscountSource interface {
	DiscountPercent(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Checkout is a created provider payment ready for the user.
type Checkout struct {
	Payment     *models.Payment `json:"payment"`
	CheckoutURL string          `json:"checkout_url"`
}

// CheckoutApp opens payments for paused participants.
type CheckoutApp struct {
	store     CheckoutStore
	discounts DiscountSource
	provider  Provider
	cfg       CheckoutConfig
}

func NewCheckoutApp(store CheckoutStore, discounts DiscountSource, provider Provider, cfg CheckoutConfig) *CheckoutApp {
	return &CheckoutApp{
		store:     store,
		discounts: discounts,
		provider:  provider,
		cfg:       cfg,
	}
}

// ComputeAmount applies a percentage discount and rounds to cents. The
// discount is clamped to [0, 100].
func ComputeAmount(fee, discountPercent decimal.Decimal) decimal.Decimal {
	if discountPercent.IsNegative() {
		discountPercent = decimal.Zero
	}
	if discountPercent.GreaterThan(hundred) {
		discountPercent = hundred
	}
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return fee.Mul(factor).Round(2)
}

// CreateCheckout opens a provider payment for a participant paused after
// question 3. Calling it again after a failed payment is the retry path.
func (a *CheckoutApp) CreateCheckout(ctx context.Context, participantID int64) (*Checkout, error) {
	p, err := a.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	if p.Status != models.ParticipantStatusPaymentPending {
		return nil, apperr.Validationf("checkout is only available while paused for payment")
	}
	if p.PaymentStatus == models.ParticipantPaymentPaid {
		return nil, apperr.Validationf("participant %d has already paid", participantID)
	}

	round, err := a.store.GetRound(ctx, p.RoundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	if round.Status != models.RoundStatusActive {
		return nil, apperr.ErrRoundNotActive
	}

	discount, err := a.discounts.DiscountPercent(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get discount: %w", err)
	}
	amount := ComputeAmount(round.EntryFee, discount)

	pp, err := a.provider.CreatePayment(ctx, ppc.CreatePaymentRequest{
		Amount:      ppc.Amount{Currency: round.Currency, Value: amount},
		Description: a.cfg.Description,
		RedirectURL: a.cfg.RedirectURL,
		WebhookURL:  a.cfg.WebhookURL,
		Metadata: map[string]string{
			"participant_id": strconv.FormatInt(p.ID, 10),
			"round_id":       strconv.FormatInt(p.RoundID, 10),
		},
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	status, err := MapProviderStatus(pp.Status)
	if err != nil {
		status = models.PaymentStatusCreated
	}
	payment, err := a.store.CreatePayment(ctx, &models.Payment{
		ParticipantID:     p.ID,
		ProviderPaymentID: pp.ID,
		Status:            status,
		Amount:            amount,
		Currency:          round.Currency,
		DiscountPercent:   discount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	log.Info().
		Int64("participant_id", p.ID).
		Str("provider_payment_id", pp.ID).
		Str("amount", amount.StringFixed(2)).
		Str("discount_percent", discount.String()).
		Msg("checkout created")
	return &Checkout{Payment: payment, CheckoutURL: pp.CheckoutURL}, nil
}
