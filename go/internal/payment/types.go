package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
)

// Result is what handling one webhook event did.
type Result string

const (
	ResultProcessed Result = "processed"
	ResultNoOp      Result = "noop"
	ResultQueued    Result = "queued_for_retry"
)

// RetryStatus tracks a durable retry job.
type RetryStatus string

const (
	RetryStatusQueued           RetryStatus = "queued"
	RetryStatusDone             RetryStatus = "done"
	RetryStatusPermanentFailure RetryStatus = "permanent_failure"
)

// RetryJob is one pending reprocessing of a provider payment. Attempt is the
// number of the attempt that runs at VisibleAt, starting at 1.
type RetryJob struct {
	ID                uuid.UUID             `json:"id"`
	ProviderPaymentID string                `json:"provider_payment_id"`
	Attempt           int                   `json:"attempt"`
	VisibleAt         time.Time             `json:"visible_at"`
	Status            RetryStatus           `json:"status"`
	LastError         string                `json:"last_error,omitempty"`
	RawPayload        pqtype.NullRawMessage `json:"raw_payload"`
	CreatedAt         time.Time             `json:"created_at"`
}

type Config struct {
	WebhookSecret string         `yaml:"-"`
	AllowedCIDRs  []string       `yaml:"allowed_cidrs"`
	MaxBodyBytes  int64          `yaml:"max_body_bytes"`
	Retry         RetryPolicy    `yaml:"retry"`
	Worker        WorkerConfig   `yaml:"worker"`
	Checkout      CheckoutConfig `yaml:"checkout"`
}

type CheckoutConfig struct {
	Description string `yaml:"description"`
	RedirectURL string `yaml:"redirect_url"`
	WebhookURL  string `yaml:"webhook_url"`
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		Retry:        DefaultRetryPolicy(),
		Worker:       DefaultWorkerConfig(),
		Checkout: CheckoutConfig{
			Description: "Quiz entry",
		},
	}
}

// MapProviderStatus maps a provider status string onto the internal enum.
func MapProviderStatus(s string) (models.PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "created":
		return models.PaymentStatusCreated, nil
	case "pending", "authorized":
		return models.PaymentStatusPending, nil
	case "paid":
		return models.PaymentStatusPaid, nil
	case "failed":
		return models.PaymentStatusFailed, nil
	case "canceled", "cancelled":
		return models.PaymentStatusCancelled, nil
	case "expired":
		return models.PaymentStatusExpired, nil
	default:
		return "", apperr.Validationf("unknown provider payment status %q", s)
	}
}
