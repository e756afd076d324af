package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

// ErrNotFound is returned when an event does not exist or was already sent.
var ErrNotFound = errors.New("outbox event not found or already sent")

const (
	insertEventSQL = `
		INSERT INTO notification_outbox (id, round_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	fetchUnsentSQL = `
		SELECT id, round_id, event_type, payload, created_at
		FROM notification_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	fetchByIDSQL = `
		SELECT id, round_id, event_type, payload, created_at
		FROM notification_outbox
		WHERE id = $1 AND sent_at IS NULL
		FOR UPDATE SKIP LOCKED`

	countUnsentSQL = `SELECT COUNT(*) FROM notification_outbox WHERE sent_at IS NULL`

	markSentSQL = `
		UPDATE notification_outbox
		SET sent_at = now()
		WHERE id = $1 AND sent_at IS NULL`
)

// Queries runs outbox statements against a pool or a transaction.
type Queries struct {
	db sqlutil.DBTX
}

func New(db sqlutil.DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func newTxQueries(tx pgx.Tx) *Queries {
	return New(tx)
}

func (q *Queries) InsertEvent(ctx context.Context, event OutboxEvent) error {
	if _, err := q.db.Exec(ctx, insertEventSQL,
		event.ID, event.RoundID, event.EventType, []byte(event.Payload), event.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", event.EventType, err)
	}
	return nil
}

// FetchUnsent locks up to limit unsent events; callers must be inside a tx.
func (q *Queries) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := q.db.Query(ctx, fetchUnsentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.RoundID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FetchByID locks a single unsent event.
func (q *Queries) FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	var ev OutboxEvent
	var payload []byte
	err := q.db.QueryRow(ctx, fetchByIDSQL, id).Scan(&ev.ID, &ev.RoundID, &ev.EventType, &payload, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	ev.Payload = payload
	return &ev, nil
}

func (q *Queries) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, markSentSQL, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

// CountUnsent returns how many events are waiting to be relayed.
func (q *Queries) CountUnsent(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, countUnsentSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsent outbox events: %w", err)
	}
	return n, nil
}
