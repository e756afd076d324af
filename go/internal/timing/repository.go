package timing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

var (
	createParticipantSQL = `
		INSERT INTO participants (round_id, user_id, device_fingerprint, status, payment_status, durations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + sqlutil.ParticipantColumns

	getParticipantSQL = `SELECT ` + sqlutil.ParticipantColumns + ` FROM participants WHERE id = $1`

	// $2 is the pre-payment question count and $3 the full count. Running
	// rows past question 3 and unpaid paused rows have no deadline and are
	// left out. Paid paused rows and post-payment rows with every answer in
	// are kept so the sweep can resume or complete them.
	listTimedSQL = `
		SELECT ` + sqlutil.ParticipantColumns + `
		FROM participants
		WHERE (status = 'running' AND cardinality(durations) < $2)
			OR (status = 'running_post_payment' AND cardinality(durations) <= $3)
			OR (status = 'payment_pending' AND payment_status = 'paid')
		ORDER BY timer_origin + make_interval(secs => total_pause_duration
			+ COALESCE((SELECT sum(d) FROM unnest(durations) AS d), 0))
		LIMIT $1`
)

// payment_status is owned by the reconciler and never written here.
const saveTimerStateSQL = `
	UPDATE participants
	SET device_fingerprint = $3,
		status = $4,
		durations = $5,
		timer_origin = $6,
		paused_at = $7,
		pre_payment_elapsed = $8,
		total_pause_duration = $9,
		total_time_all_questions = $10,
		failure_reason = $11,
		version = version + 1,
		updated_at = now()
	WHERE id = $1 AND version = $2
	RETURNING version, updated_at`

const correctAnswerSQL = `
	SELECT q.correct_answer
	FROM questions q
	JOIN rounds r ON r.game_id = q.game_id
	WHERE r.id = $1 AND q.position = $2`

// Repository handles participant timer persistence
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	created, err := sqlutil.ScanParticipant(r.db.QueryRow(ctx, createParticipantSQL,
		p.RoundID, p.UserID, p.DeviceFingerprint, string(p.Status), string(p.PaymentStatus), p.Durations,
	))
	if err != nil {
		if sqlutil.IsUniqueViolation(err) {
			return nil, apperr.ErrAlreadyJoined
		}
		return nil, err
	}
	return created, nil
}

func (r *Repository) GetParticipant(ctx context.Context, id int64) (*models.Participant, error) {
	p, err := sqlutil.ScanParticipant(r.db.QueryRow(ctx, getParticipantSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("participant %d not found", id))
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) SaveTimerState(ctx context.Context, p *models.Participant) error {
	err := r.db.QueryRow(ctx, saveTimerStateSQL,
		p.ID, p.Version,
		p.DeviceFingerprint,
		string(p.Status),
		p.Durations,
		p.TimerOrigin,
		p.PausedAt,
		p.PrePaymentElapsed,
		p.TotalPauseDuration,
		p.TotalTimeAllQuestions,
		string(p.FailureReason),
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrVersionConflict
	}
	return err
}

func (r *Repository) ListTimed(ctx context.Context, limit int32) ([]models.Participant, error) {
	rows, err := r.db.Query(ctx, listTimedSQL, limit, models.PrePaymentQuestions, models.QuestionCount)
	if err != nil {
		return nil, err
	}
	return sqlutil.ScanParticipants(rows)
}

// AnswerKeyRepository reads correct answers from the questions table.
type AnswerKeyRepository struct {
	db sqlutil.DBTX
}

func NewAnswerKeyRepository(db sqlutil.DBTX) *AnswerKeyRepository {
	return &AnswerKeyRepository{db: db}
}

func (r *AnswerKeyRepository) CorrectAnswer(ctx context.Context, roundID int64, position int) (string, error) {
	var answer string
	err := r.db.QueryRow(ctx, correctAnswerSQL, roundID, position).Scan(&answer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.New(apperr.KindNotFound, fmt.Sprintf("no question %d for round %d", position, roundID))
		}
		return "", err
	}
	return answer, nil
}
