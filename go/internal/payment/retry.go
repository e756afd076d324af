package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

// RetryPolicy spaces reprocessing attempts exponentially.
type RetryPolicy struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   60 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay is how long attempt n (1-based) waits: BaseDelay * 2^(n-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// RetryQueue is the durable store behind the retry worker.
type RetryQueue interface {
	Enqueue(ctx context.Context, job RetryJob) error
	// ClaimDue returns due jobs and hides them for visibility so a crashed
	// worker's jobs reappear.
	ClaimDue(ctx context.Context, now time.Time, limit int32, visibility time.Duration) ([]RetryJob, error)
	Reschedule(ctx context.Context, id uuid.UUID, attempt int, visibleAt time.Time, lastErr string) error
	MarkDone(ctx context.Context, id uuid.UUID) error
	// MarkPermanentFailure closes the job and records the failure durably.
	MarkPermanentFailure(ctx context.Context, job RetryJob, lastErr string) error
}

// EventProcessor handles one provider payment event.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, providerPaymentID string) (Result, error)
}

// EnqueueRetry schedules the first retry attempt for an event that failed
// on a transient provider error.
func EnqueueRetry(ctx context.Context, queue RetryQueue, policy RetryPolicy, clock clockwork.Clock, providerPaymentID string, raw []byte, cause error) (RetryJob, error) {
	job := RetryJob{
		ID:                uuid.New(),
		ProviderPaymentID: providerPaymentID,
		Attempt:           1,
		VisibleAt:         clock.Now().Add(policy.Delay(1)),
		Status:            RetryStatusQueued,
		RawPayload:        sqlutil.ToNullRawMessage(raw),
		CreatedAt:         clock.Now(),
	}
	if cause != nil {
		job.LastError = cause.Error()
	}
	if err := queue.Enqueue(ctx, job); err != nil {
		return RetryJob{}, fmt.Errorf("failed to enqueue retry: %w", err)
	}
	log.Warn().
		Str("provider_payment_id", providerPaymentID).
		Time("visible_at", job.VisibleAt).
		Msg("payment event queued for retry")
	return job, nil
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int32         `yaml:"batch_size"`
	Visibility   time.Duration `yaml:"visibility"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		Visibility:   2 * time.Minute,
	}
}

// RetryWorker drains due retry jobs. Delays live in the queue, never in a
// sleeping goroutine.
type RetryWorker struct {
	queue     RetryQueue
	processor EventProcessor
	policy    RetryPolicy
	clock     clockwork.Clock
	cfg       WorkerConfig
}

func NewRetryWorker(queue RetryQueue, processor EventProcessor, policy RetryPolicy, clock clockwork.Clock, cfg WorkerConfig) *RetryWorker {
	return &RetryWorker{
		queue:     queue,
		processor: processor,
		policy:    policy,
		clock:     clock,
		cfg:       cfg,
	}
}

// Run polls until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("payment retry worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("payment retry worker shutting down")
			return nil
		case <-ticker.Chan():
			if _, err := w.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("payment retry pass failed")
			}
		}
	}
}

// RunOnce processes one batch of due jobs and returns how many it handled.
// A job that cannot be updated is logged and stays claimed until its
// visibility timeout lapses; the rest of the batch still runs.
func (w *RetryWorker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.queue.ClaimDue(ctx, w.clock.Now(), w.cfg.BatchSize, w.cfg.Visibility)
	if err != nil {
		return 0, fmt.Errorf("failed to claim retry jobs: %w", err)
	}
	handled := 0
	for _, job := range jobs {
		if err := w.handle(ctx, job); err != nil {
			log.Error().
				Err(err).
				Str("provider_payment_id", job.ProviderPaymentID).
				Str("job_id", job.ID.String()).
				Msg("failed to update payment retry job")
			continue
		}
		handled++
	}
	return handled, nil
}

func (w *RetryWorker) handle(ctx context.Context, job RetryJob) error {
	logger := log.With().
		Str("provider_payment_id", job.ProviderPaymentID).
		Str("job_id", job.ID.String()).
		Int("attempt", job.Attempt).
		Logger()

	result, err := w.processor.ProcessEvent(ctx, job.ProviderPaymentID)
	if err == nil {
		logger.Info().Str("result", string(result)).Msg("payment retry succeeded")
		return w.queue.MarkDone(ctx, job.ID)
	}

	if apperr.IsValidation(err) || apperr.IsSecurity(err) || job.Attempt >= w.policy.MaxAttempts {
		perm := apperr.Wrap(apperr.KindPermanentFailure, err, fmt.Sprintf("payment reconciliation failed after %d attempts", job.Attempt))
		logger.Error().Err(perm).Msg("payment reconciliation permanently failed")
		return w.queue.MarkPermanentFailure(ctx, job, err.Error())
	}

	next := job.Attempt + 1
	visibleAt := w.clock.Now().Add(w.policy.Delay(next))
	logger.Warn().Err(err).Int("next_attempt", next).Time("visible_at", visibleAt).Msg("payment retry failed, rescheduled")
	return w.queue.Reschedule(ctx, job.ID, next, visibleAt, err.Error())
}
