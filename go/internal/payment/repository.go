package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

const paymentColumns = `p.id, p.participant_id, p.provider_payment_id, p.status, p.amount,
	p.currency, p.discount_percent, p.created_at, p.updated_at`

var (
	lockPaymentSQL = `
		SELECT ` + paymentColumns + `, pt.round_id
		FROM payments p
		JOIN participants pt ON pt.id = p.participant_id
		WHERE p.provider_payment_id = $1
		FOR UPDATE OF p`

	insertPaymentSQL = `
		INSERT INTO payments AS p (participant_id, provider_payment_id, status, amount, currency, discount_percent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + paymentColumns

	getParticipantSQL = `SELECT ` + sqlutil.ParticipantColumns + ` FROM participants WHERE id = $1`
	getRoundSQL       = `SELECT ` + sqlutil.RoundColumns + ` FROM rounds WHERE id = $1`
)

const (
	updatePaymentStatusSQL = `UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`

	lockParticipantPaymentSQL = `SELECT payment_status FROM participants WHERE id = $1 FOR UPDATE`

	// the version column is left alone so concurrent timer writes do not conflict
	setParticipantPaymentStatusSQL = `UPDATE participants SET payment_status = $2, updated_at = now() WHERE id = $1`

	incrementPaidCountSQL = `UPDATE rounds SET paid_participant_count = paid_participant_count + 1 WHERE id = $1`

	resetParticipantPaymentSQL = `
		UPDATE participants
		SET payment_status = 'pending', updated_at = now()
		WHERE id = $1 AND payment_status IN ('failed', 'cancelled', 'expired')`

	discountSQL = `SELECT discount_percent FROM user_discounts WHERE user_id = $1`
)

func scanPayment(row pgx.Row, extra ...any) (*models.Payment, error) {
	var p models.Payment
	var status string
	dest := append([]any{
		&p.ID, &p.ParticipantID, &p.ProviderPaymentID, &status, &p.Amount,
		&p.Currency, &p.DiscountPercent, &p.CreatedAt, &p.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

// Repository implements PaymentStore and CheckoutStore against Postgres.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type paymentTx struct {
	tx pgx.Tx
}

func newPaymentTx(tx pgx.Tx) *paymentTx {
	return &paymentTx{tx: tx}
}

func (r *Repository) WithPaymentLock(ctx context.Context, providerPaymentID string, fn func(tx PaymentTx, p *models.Payment, roundID int64) error) error {
	err := sqlutil.Run(ctx, r.pool, newPaymentTx, func(q *paymentTx) error {
		if _, err := q.tx.Exec(ctx, sqlutil.LockTimeoutStatement(r.lockTimeout)); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
		var roundID int64
		p, err := scanPayment(q.tx.QueryRow(ctx, lockPaymentSQL, providerPaymentID), &roundID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, fmt.Sprintf("payment %s not found", providerPaymentID))
			}
			return err
		}
		return fn(q, p, roundID)
	})
	if sqlutil.IsLockContention(err) {
		return apperr.Wrap(apperr.KindConcurrencyConflict, err, fmt.Sprintf("payment %s is locked", providerPaymentID))
	}
	return err
}

func (q *paymentTx) UpdatePaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error {
	_, err := q.tx.Exec(ctx, updatePaymentStatusSQL, paymentID, string(status))
	return err
}

func (q *paymentTx) LockParticipantPayment(ctx context.Context, participantID int64) (models.ParticipantPaymentStatus, error) {
	var status string
	if err := q.tx.QueryRow(ctx, lockParticipantPaymentSQL, participantID).Scan(&status); err != nil {
		return "", err
	}
	return models.ParticipantPaymentStatus(status), nil
}

func (q *paymentTx) SetParticipantPaymentStatus(ctx context.Context, participantID int64, status models.ParticipantPaymentStatus) error {
	_, err := q.tx.Exec(ctx, setParticipantPaymentStatusSQL, participantID, string(status))
	return err
}

func (q *paymentTx) IncrementPaidCount(ctx context.Context, roundID int64) error {
	_, err := q.tx.Exec(ctx, incrementPaidCountSQL, roundID)
	return err
}

func (r *Repository) GetParticipant(ctx context.Context, participantID int64) (*models.Participant, error) {
	p, err := sqlutil.ScanParticipant(r.pool.QueryRow(ctx, getParticipantSQL, participantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("participant %d not found", participantID))
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) GetRound(ctx context.Context, roundID int64) (*models.Round, error) {
	round, err := sqlutil.ScanRound(r.pool.QueryRow(ctx, getRoundSQL, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("round %d not found", roundID))
		}
		return nil, err
	}
	return round, nil
}

func (r *Repository) CreatePayment(ctx context.Context, in *models.Payment) (*models.Payment, error) {
	var out *models.Payment
	err := sqlutil.Run(ctx, r.pool, newPaymentTx, func(q *paymentTx) error {
		p, err := scanPayment(q.tx.QueryRow(ctx, insertPaymentSQL,
			in.ParticipantID, in.ProviderPaymentID, string(in.Status), in.Amount, in.Currency, in.DiscountPercent,
		))
		if err != nil {
			if sqlutil.IsUniqueViolation(err) {
				return apperr.Validationf("payment %s already recorded", in.ProviderPaymentID)
			}
			return err
		}
		if _, err := q.tx.Exec(ctx, resetParticipantPaymentSQL, in.ParticipantID); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DiscountRepository reads discounts kept by the referral system.
type DiscountRepository struct {
	db sqlutil.DBTX
}

func NewDiscountRepository(db sqlutil.DBTX) *DiscountRepository {
	return &DiscountRepository{db: db}
}

func (r *DiscountRepository) DiscountPercent(ctx context.Context, userID string) (decimal.Decimal, error) {
	var pct decimal.Decimal
	err := r.db.QueryRow(ctx, discountSQL, userID).Scan(&pct)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return pct, nil
}

const (
	retryColumns = `id, provider_payment_id, attempt, visible_at, status, last_error, raw_payload, created_at`

	enqueueRetrySQL = `
		INSERT INTO payment_retry_jobs (id, provider_payment_id, attempt, visible_at, status, last_error, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	claimDueSQL = `
		UPDATE payment_retry_jobs
		SET visible_at = $2
		WHERE id IN (
			SELECT id FROM payment_retry_jobs
			WHERE status = 'queued' AND visible_at <= $1
			ORDER BY visible_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + retryColumns

	rescheduleSQL = `
		UPDATE payment_retry_jobs
		SET attempt = $2, visible_at = $3, last_error = $4
		WHERE id = $1 AND status = 'queued'`

	markDoneSQL = `UPDATE payment_retry_jobs SET status = 'done' WHERE id = $1`

	markPermanentSQL = `UPDATE payment_retry_jobs SET status = 'permanent_failure', last_error = $2 WHERE id = $1`

	insertFailureSQL = `
		INSERT INTO payment_reconciliation_failures (provider_payment_id, retry_job_id, attempts, last_error, raw_payload)
		VALUES ($1, $2, $3, $4, $5)`
)

// RetryRepository is the Postgres-backed RetryQueue.
type RetryRepository struct {
	pool *pgxpool.Pool
}

func NewRetryRepository(pool *pgxpool.Pool) *RetryRepository {
	return &RetryRepository{pool: pool}
}

func (r *RetryRepository) Enqueue(ctx context.Context, job RetryJob) error {
	_, err := r.pool.Exec(ctx, enqueueRetrySQL,
		job.ID, job.ProviderPaymentID, job.Attempt, job.VisibleAt, string(job.Status), job.LastError, job.RawPayload, job.CreatedAt,
	)
	return err
}

func (r *RetryRepository) ClaimDue(ctx context.Context, now time.Time, limit int32, visibility time.Duration) ([]RetryJob, error) {
	rows, err := r.pool.Query(ctx, claimDueSQL, now, now.Add(visibility), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []RetryJob
	for rows.Next() {
		var job RetryJob
		var status string
		if err := rows.Scan(&job.ID, &job.ProviderPaymentID, &job.Attempt, &job.VisibleAt,
			&status, &job.LastError, &job.RawPayload, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Status = RetryStatus(status)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *RetryRepository) Reschedule(ctx context.Context, id uuid.UUID, attempt int, visibleAt time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx, rescheduleSQL, id, attempt, visibleAt, lastErr)
	return err
}

func (r *RetryRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, markDoneSQL, id)
	return err
}

func (r *RetryRepository) MarkPermanentFailure(ctx context.Context, job RetryJob, lastErr string) error {
	return sqlutil.Run(ctx, r.pool, newPaymentTx, func(q *paymentTx) error {
		if _, err := q.tx.Exec(ctx, markPermanentSQL, job.ID, lastErr); err != nil {
			return err
		}
		_, err := q.tx.Exec(ctx, insertFailureSQL, job.ProviderPaymentID, job.ID, job.Attempt, lastErr, job.RawPayload)
		return err
	})
}
