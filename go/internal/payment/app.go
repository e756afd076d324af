package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/clients"
	ppc "github.com/mcdev12/quizpot/go/clients/payment_provider_client"
	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/settlement"
)

// Provider is the payment provider API.
type Provider interface {
	GetPayment(ctx context.Context, providerPaymentID string) (*ppc.Payment, error)
	CreatePayment(ctx context.Context, req ppc.CreatePaymentRequest) (*ppc.Payment, error)
}

// PaymentTx is the work available while a payment row is locked.
type PaymentTx interface {
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error
	// LockParticipantPayment locks the participant and returns its current payment status.
	LockParticipantPayment(ctx context.Context, participantID int64) (models.ParticipantPaymentStatus, error)
	SetParticipantPaymentStatus(ctx context.Context, participantID int64, status models.ParticipantPaymentStatus) error
	IncrementPaidCount(ctx context.Context, roundID int64) error
}

// PaymentStore defines what the reconciler needs from storage.
type PaymentStore interface {
	// WithPaymentLock runs fn in a transaction holding the row lock on the
	// payment with the given provider id. roundID is the participant's round.
	WithPaymentLock(ctx context.Context, providerPaymentID string, fn func(tx PaymentTx, p *models.Payment, roundID int64) error) error
}

// Resumer resumes a paused participant once payment is confirmed.
type Resumer interface {
	ResumeAfterPayment(ctx context.Context, participantID int64) (bool, error)
}

// RoundCompleter settles a round.
type RoundCompleter interface {
	AttemptCompleteRound(ctx context.Context, roundID int64) (settlement.Outcome, error)
}

// Reconciler applies provider payment state to payments, participants and rounds.
type Reconciler struct {
	provider  Provider
	store     PaymentStore
	resumer   Resumer
	completer RoundCompleter
}

func NewReconciler(provider Provider, store PaymentStore, resumer Resumer, completer RoundCompleter) *Reconciler {
	return &Reconciler{
		provider:  provider,
		store:     store,
		resumer:   resumer,
		completer: completer,
	}
}

// ProcessEvent fetches the authoritative status from the provider and
// applies it. Redelivery of the same status is a no-op apart from
// re-applying the idempotent resume and settlement steps.
func (r *Reconciler) ProcessEvent(ctx context.Context, providerPaymentID string) (Result, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return "", apperr.Validationf("payment id is required")
	}

	pp, err := r.provider.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return "", classifyProviderError(err)
	}
	status, err := MapProviderStatus(pp.Status)
	if err != nil {
		return "", err
	}
	return r.apply(ctx, providerPaymentID, status)
}

func (r *Reconciler) apply(ctx context.Context, providerPaymentID string, next models.PaymentStatus) (Result, error) {
	var (
		changed       bool
		participantID int64
		roundID       int64
		current       models.PaymentStatus
	)
	err := r.store.WithPaymentLock(ctx, providerPaymentID, func(tx PaymentTx, p *models.Payment, rid int64) error {
		participantID, roundID, current = p.ParticipantID, rid, p.Status
		if p.Status == next || !p.Status.CanTransitionTo(next) {
			return nil
		}

		if err := tx.UpdatePaymentStatus(ctx, p.ID, next); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		participantStatus, err := tx.LockParticipantPayment(ctx, p.ParticipantID)
		if err != nil {
			return fmt.Errorf("failed to lock participant: %w", err)
		}
		// a participant who already paid keeps that state even if another
		// checkout attempt of theirs fails later
		if participantStatus != models.ParticipantPaymentPaid {
			if err := tx.SetParticipantPaymentStatus(ctx, p.ParticipantID, next.ParticipantStatus()); err != nil {
				return fmt.Errorf("failed to update participant payment status: %w", err)
			}
			if next == models.PaymentStatusPaid {
				if err := tx.IncrementPaidCount(ctx, rid); err != nil {
					return fmt.Errorf("failed to increment paid count: %w", err)
				}
			}
		}
		changed, current = true, next
		return nil
	})
	if apperr.IsNotFound(err) {
		log.Warn().Str("provider_payment_id", providerPaymentID).Msg("webhook for unknown payment ignored")
		return ResultNoOp, nil
	}
	if err != nil {
		return "", err
	}

	logger := log.With().
		Str("provider_payment_id", providerPaymentID).
		Int64("participant_id", participantID).
		Str("status", string(current)).
		Logger()
	if changed {
		logger.Info().Msg("payment status applied")
	} else {
		logger.Debug().Str("incoming", string(next)).Msg("payment event is a no-op")
	}

	if current == models.PaymentStatusPaid {
		if err := r.afterPaid(ctx, participantID, roundID); err != nil {
			return "", err
		}
	}
	if changed {
		return ResultProcessed, nil
	}
	return ResultNoOp, nil
}

// afterPaid resumes the participant and re-evaluates the round. Both steps
// are idempotent, so a repeated Paid delivery heals a crash after commit.
func (r *Reconciler) afterPaid(ctx context.Context, participantID, roundID int64) error {
	resumed, err := r.resumer.ResumeAfterPayment(ctx, participantID)
	if err != nil && !errors.Is(err, apperr.ErrParticipantFinished) {
		return fmt.Errorf("failed to resume participant %d: %w", participantID, err)
	}
	if resumed {
		log.Info().Int64("participant_id", participantID).Msg("participant resumed after payment")
	}

	outcome, err := r.completer.AttemptCompleteRound(ctx, roundID)
	if err != nil {
		log.Error().Err(err).Int64("round_id", roundID).Msg("failed to attempt round completion after payment")
		return nil
	}
	log.Debug().Int64("round_id", roundID).Str("result", string(outcome.Result)).Msg("round completion attempted")
	return nil
}

func classifyProviderError(err error) error {
	if clients.IsTransient(err) {
		return apperr.Wrap(apperr.KindTransientProvider, err, "payment provider unavailable")
	}
	var se *clients.StatusError
	if errors.As(err, &se) && se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError {
		return apperr.Wrap(apperr.KindValidation, err, "payment provider rejected request")
	}
	return fmt.Errorf("failed to fetch payment from provider: %w", err)
}
