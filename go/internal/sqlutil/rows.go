package sqlutil

import (
	"github.com/jackc/pgx/v5"

	"github.com/mcdev12/quizpot/go/internal/models"
)

// ParticipantColumns is the select list ScanParticipant expects.
const ParticipantColumns = `id, round_id, user_id, device_fingerprint, status, payment_status,
	durations, timer_origin, paused_at, pre_payment_elapsed, total_pause_duration,
	total_time_all_questions, failure_reason, is_winner, version, created_at, updated_at`

// RoundColumns is the select list ScanRound expects.
const RoundColumns = `id, game_id, status, max_players, paid_participant_count,
	winner_participant_id, entry_fee, currency, completed_at, created_at`

// ScanParticipant reads one row selected with ParticipantColumns.
func ScanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	var status, paymentStatus, failure string
	if err := row.Scan(
		&p.ID, &p.RoundID, &p.UserID, &p.DeviceFingerprint, &status, &paymentStatus,
		&p.Durations, &p.TimerOrigin, &p.PausedAt, &p.PrePaymentElapsed, &p.TotalPauseDuration,
		&p.TotalTimeAllQuestions, &failure, &p.IsWinner, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = models.ParticipantStatus(status)
	p.PaymentStatus = models.ParticipantPaymentStatus(paymentStatus)
	p.FailureReason = models.FailureReason(failure)
	if p.Durations == nil {
		p.Durations = []float64{}
	}
	return &p, nil
}

// ScanParticipants drains rows selected with ParticipantColumns.
func ScanParticipants(rows pgx.Rows) ([]models.Participant, error) {
	defer rows.Close()
	var out []models.Participant
	for rows.Next() {
		p, err := ScanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ScanRound reads one row selected with RoundColumns.
func ScanRound(row pgx.Row) (*models.Round, error) {
	var r models.Round
	var status string
	if err := row.Scan(
		&r.ID, &r.GameID, &status, &r.MaxPlayers, &r.PaidParticipantCount,
		&r.WinnerParticipantID, &r.EntryFee, &r.Currency, &r.CompletedAt, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = models.RoundStatus(status)
	return &r, nil
}
