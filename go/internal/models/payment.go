package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus defines the provider-facing lifecycle of a payment.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "created"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusExpired   PaymentStatus = "expired"
)

// Terminal reports whether the payment can no longer change.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusCreated:
		return 0
	case PaymentStatusPending:
		return 1
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether a provider status change from s to next is a forward move.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s.rank() < 0 || next.rank() < 0 || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ParticipantStatus projects a payment status onto the participant record.
func (s PaymentStatus) ParticipantStatus() ParticipantPaymentStatus {
	switch s {
	case PaymentStatusPaid:
		return ParticipantPaymentPaid
	case PaymentStatusFailed:
		return ParticipantPaymentFailed
	case PaymentStatusCancelled:
		return ParticipantPaymentCancelled
	case PaymentStatusExpired:
		return ParticipantPaymentExpired
	default:
		return ParticipantPaymentPending
	}
}

// Payment represents one checkout attempt at the payment provider.
// ProviderPaymentID is unique and is the webhook idempotency key.
type Payment struct {
	ID                int64           `json:"id"`
	ParticipantID     int64           `json:"participant_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	Status            PaymentStatus   `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
