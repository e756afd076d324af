package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/outbox"
	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

// Repository implements RoundStore against Postgres.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

var (
	lockRoundSQL = `SELECT ` + sqlutil.RoundColumns + ` FROM rounds WHERE id = $1 FOR UPDATE`
	getRoundSQL  = `SELECT ` + sqlutil.RoundColumns + ` FROM rounds WHERE id = $1`

	listPaidParticipantsSQL = `
		SELECT ` + sqlutil.ParticipantColumns + `
		FROM participants
		WHERE round_id = $1 AND payment_status = 'paid'
		ORDER BY total_time_all_questions ASC NULLS LAST, id ASC`

	createNextRoundSQL = `
		INSERT INTO rounds (game_id, status, max_players, entry_fee, currency)
		VALUES ($1, 'active', $2, $3, $4)
		RETURNING ` + sqlutil.RoundColumns
)

const (
	completeRoundSQL = `
		UPDATE rounds
		SET status = 'completed', winner_participant_id = $2, completed_at = $3
		WHERE id = $1 AND status = 'active'`

	markWinnerSQL = `
		UPDATE participants
		SET is_winner = TRUE, updated_at = now()
		WHERE id = $1 AND is_winner = FALSE`
)

type roundTx struct {
	tx pgx.Tx
}

func newRoundTx(tx pgx.Tx) *roundTx {
	return &roundTx{tx: tx}
}

func (r *Repository) WithRoundLock(ctx context.Context, roundID int64, fn func(tx RoundTx, round *models.Round) error) error {
	err := sqlutil.Run(ctx, r.pool, newRoundTx, func(q *roundTx) error {
		if _, err := q.tx.Exec(ctx, sqlutil.LockTimeoutStatement(r.lockTimeout)); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
		round, err := sqlutil.ScanRound(q.tx.QueryRow(ctx, lockRoundSQL, roundID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, fmt.Sprintf("round %d not found", roundID))
			}
			return err
		}
		return fn(q, round)
	})
	if sqlutil.IsLockContention(err) {
		return apperr.Wrap(apperr.KindConcurrencyConflict, err, fmt.Sprintf("round %d is locked", roundID))
	}
	return err
}

func (r *Repository) GetRound(ctx context.Context, roundID int64) (*models.Round, error) {
	round, err := sqlutil.ScanRound(r.pool.QueryRow(ctx, getRoundSQL, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("round %d not found", roundID))
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

func (r *Repository) CreateNextRound(ctx context.Context, prev *models.Round) (*models.Round, error) {
	round, err := sqlutil.ScanRound(r.pool.QueryRow(ctx, createNextRoundSQL,
		prev.GameID, prev.MaxPlayers, prev.EntryFee, prev.Currency,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create next round: %w", err)
	}
	return round, nil
}

func (q *roundTx) ListPaidParticipants(ctx context.Context, roundID int64) ([]models.Participant, error) {
	rows, err := q.tx.Query(ctx, listPaidParticipantsSQL, roundID)
	if err != nil {
		return nil, err
	}
	return sqlutil.ScanParticipants(rows)
}

func (q *roundTx) CompleteRound(ctx context.Context, round *models.Round) (bool, error) {
	tag, err := q.tx.Exec(ctx, completeRoundSQL, round.ID, round.WinnerParticipantID, round.CompletedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *roundTx) MarkWinner(ctx context.Context, participantID int64) error {
	_, err := q.tx.Exec(ctx, markWinnerSQL, participantID)
	return err
}

func (q *roundTx) InsertEvents(ctx context.Context, evs []outbox.OutboxEvent) error {
	queries := outbox.New(q.tx)
	for _, ev := range evs {
		if err := queries.InsertEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
