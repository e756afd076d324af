package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizpot/go/clients"
	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
)

type reconcilerHarness struct {
	provider  *fakeProvider
	store     *fakeStore
	resumer   *fakeResumer
	completer *fakeCompleter
	rec       *Reconciler
}

func newReconcilerHarness() *reconcilerHarness {
	h := &reconcilerHarness{
		provider:  newFakeProvider(),
		store:     newFakeStore(),
		resumer:   &fakeResumer{},
		completer: &fakeCompleter{},
	}
	h.rec = NewReconciler(h.provider, h.store, h.resumer, h.completer)
	return h
}

func TestProcessEventPaid(t *testing.T) {
	ctx := context.Background()
	h := newReconcilerHarness()
	h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
	h.provider.set("tr_1", "paid")

	result, err := h.rec.ProcessEvent(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, models.PaymentStatusPaid, h.store.status("tr_1"))
	assert.Equal(t, models.ParticipantPaymentPaid, h.store.participantStatus(10))
	assert.Equal(t, 1, h.store.count(1))
	assert.Equal(t, 1, h.resumer.calls)
	assert.Equal(t, []int64{1}, h.completer.rounds)

	t.Run("redelivery is a no-op", func(t *testing.T) {
		result, err := h.rec.ProcessEvent(ctx, "tr_1")
		require.NoError(t, err)
		assert.Equal(t, ResultNoOp, result)
		assert.Equal(t, 1, h.store.count(1))
		assert.Len(t, h.resumer.resumed, 1)
	})

	t.Run("no backward transition", func(t *testing.T) {
		h.provider.set("tr_1", "pending")
		result, err := h.rec.ProcessEvent(ctx, "tr_1")
		require.NoError(t, err)
		assert.Equal(t, ResultNoOp, result)
		assert.Equal(t, models.PaymentStatusPaid, h.store.status("tr_1"))
		assert.Equal(t, models.ParticipantPaymentPaid, h.store.participantStatus(10))
	})
}

func TestProcessEventConcurrentDeliveriesCountOnce(t *testing.T) {
	ctx := context.Background()
	h := newReconcilerHarness()
	h.store.addPayment("tr_1", 10, 1, models.PaymentStatusPending)
	h.provider.set("tr_1", "paid")

	var wg sync.WaitGroup
	results := make(chan Result, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.rec.ProcessEvent(ctx, "tr_1")
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	processed := 0
	for r := range results {
		if r == ResultProcessed {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, h.store.count(1))
	assert.Len(t, h.resumer.resumed, 1)
}

func TestProcessEventFailedPayment(t *testing.T) {
	ctx := context.Background()
	h := newReconcilerHarness()
	h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
	h.provider.set("tr_1", "failed")

	result, err := h.rec.ProcessEvent(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, models.ParticipantPaymentFailed, h.store.participantStatus(10))
	assert.Zero(t, h.store.count(1))
	assert.Zero(t, h.resumer.calls)
	assert.Zero(t, h.completer.calls())
}

func TestProcessEventLaterFailureKeepsParticipantPaid(t *testing.T) {
	ctx := context.Background()
	h := newReconcilerHarness()
	h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
	h.store.addPayment("tr_2", 10, 1, models.PaymentStatusCreated)
	h.provider.set("tr_1", "paid")
	h.provider.set("tr_2", "failed")

	_, err := h.rec.ProcessEvent(ctx, "tr_1")
	require.NoError(t, err)
	result, err := h.rec.ProcessEvent(ctx, "tr_2")
	require.NoError(t, err)

	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, models.PaymentStatusFailed, h.store.status("tr_2"))
	assert.Equal(t, models.ParticipantPaymentPaid, h.store.participantStatus(10))
	assert.Equal(t, 1, h.store.count(1))
}

func TestProcessEventUnknownPayment(t *testing.T) {
	h := newReconcilerHarness()
	h.provider.set("tr_missing", "paid")

	result, err := h.rec.ProcessEvent(context.Background(), "tr_missing")
	require.NoError(t, err)
	assert.Equal(t, ResultNoOp, result)
}

func TestProcessEventErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty id", func(t *testing.T) {
		h := newReconcilerHarness()
		_, err := h.rec.ProcessEvent(ctx, "  ")
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("provider unavailable is transient", func(t *testing.T) {
		h := newReconcilerHarness()
		h.provider.getErr = &clients.StatusError{StatusCode: 503}
		_, err := h.rec.ProcessEvent(ctx, "tr_1")
		assert.True(t, apperr.IsTransient(err))
	})

	t.Run("provider rejects request", func(t *testing.T) {
		h := newReconcilerHarness()
		h.provider.getErr = &clients.StatusError{StatusCode: 404}
		_, err := h.rec.ProcessEvent(ctx, "tr_1")
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("unknown provider status", func(t *testing.T) {
		h := newReconcilerHarness()
		h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
		h.provider.set("tr_1", "refunded-ish")
		_, err := h.rec.ProcessEvent(ctx, "tr_1")
		assert.True(t, apperr.IsValidation(err))
		assert.Equal(t, models.PaymentStatusCreated, h.store.status("tr_1"))
	})

	t.Run("finished participant still settles", func(t *testing.T) {
		h := newReconcilerHarness()
		h.resumer.err = apperr.ErrParticipantFinished
		h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
		h.provider.set("tr_1", "paid")
		result, err := h.rec.ProcessEvent(ctx, "tr_1")
		require.NoError(t, err)
		assert.Equal(t, ResultProcessed, result)
		assert.Equal(t, 1, h.completer.calls())
	})

	t.Run("resume failure is returned", func(t *testing.T) {
		h := newReconcilerHarness()
		h.resumer.err = errors.New("db down")
		h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
		h.provider.set("tr_1", "paid")
		_, err := h.rec.ProcessEvent(ctx, "tr_1")
		assert.ErrorContains(t, err, "db down")
		// the status change committed and a redelivery heals the resume
		assert.Equal(t, models.PaymentStatusPaid, h.store.status("tr_1"))
	})

	t.Run("settlement failure is logged only", func(t *testing.T) {
		h := newReconcilerHarness()
		h.completer.err = errors.New("lock timeout")
		h.store.addPayment("tr_1", 10, 1, models.PaymentStatusCreated)
		h.provider.set("tr_1", "paid")
		result, err := h.rec.ProcessEvent(ctx, "tr_1")
		require.NoError(t, err)
		assert.Equal(t, ResultProcessed, result)
	})
}

func TestMapProviderStatus(t *testing.T) {
	tests := map[string]models.PaymentStatus{
		"open":       models.PaymentStatusCreated,
		"pending":    models.PaymentStatusPending,
		"authorized": models.PaymentStatusPending,
		" PAID ":     models.PaymentStatusPaid,
		"failed":     models.PaymentStatusFailed,
		"canceled":   models.PaymentStatusCancelled,
		"expired":    models.PaymentStatusExpired,
	}
	for in, want := range tests {
		got, err := MapProviderStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := MapProviderStatus("chargeback")
	assert.True(t, apperr.IsValidation(err))
}
