package models

import (
	"time"
)

// QuestionCount is the number of questions in every round.
const QuestionCount = 9

// PrePaymentQuestions is how many questions are played before the payment pause.
const PrePaymentQuestions = 3

// ParticipantStatus defines the timer state of a participant.
type ParticipantStatus string

const (
	ParticipantStatusNotStarted         ParticipantStatus = "not_started"
	ParticipantStatusRunning            ParticipantStatus = "running"
	ParticipantStatusPaymentPending     ParticipantStatus = "payment_pending"
	ParticipantStatusRunningPostPayment ParticipantStatus = "running_post_payment"
	ParticipantStatusCompleted          ParticipantStatus = "completed"
	ParticipantStatusFailed             ParticipantStatus = "failed"
)

// rank orders statuses so transitions can only move forward.
func (s ParticipantStatus) rank() int {
	switch s {
	case ParticipantStatusNotStarted:
		return 0
	case ParticipantStatusRunning:
		return 1
	case ParticipantStatusPaymentPending:
		return 2
	case ParticipantStatusRunningPostPayment:
		return 3
	case ParticipantStatusCompleted, ParticipantStatusFailed:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s ParticipantStatus) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further transitions are possible.
func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantStatusCompleted || s == ParticipantStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
func (s ParticipantStatus) CanTransitionTo(next ParticipantStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if next == ParticipantStatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// ParticipantPaymentStatus mirrors the latest payment outcome on the participant.
type ParticipantPaymentStatus string

const (
	ParticipantPaymentPending   ParticipantPaymentStatus = "pending"
	ParticipantPaymentPaid      ParticipantPaymentStatus = "paid"
	ParticipantPaymentFailed    ParticipantPaymentStatus = "failed"
	ParticipantPaymentCancelled ParticipantPaymentStatus = "cancelled"
	ParticipantPaymentExpired   ParticipantPaymentStatus = "expired"
)

// FailureReason explains why a participant ended in the failed state.
type FailureReason string

const (
	FailureReasonNone           FailureReason = ""
	FailureReasonTimeout        FailureReason = "timeout"
	FailureReasonWrongAnswer    FailureReason = "wrong_answer"
	FailureReasonDeviceMismatch FailureReason = "device_mismatch"
)

// Participant is one user's single attempt within a round. All timer state is
// persisted here so any worker can serve any request.
type Participant struct {
	ID                    int64                    `json:"id"`
	RoundID               int64                    `json:"round_id"`
	UserID                string                   `json:"user_id"`
	DeviceFingerprint     string                   `json:"-"`
	Status                ParticipantStatus        `json:"status"`
	PaymentStatus         ParticipantPaymentStatus `json:"payment_status"`
	Durations             []float64                `json:"durations"`
	TimerOrigin           *time.Time               `json:"timer_origin,omitempty"`
	PausedAt              *time.Time               `json:"paused_at,omitempty"`
	PrePaymentElapsed     float64                  `json:"pre_payment_elapsed"`
	TotalPauseDuration    float64                  `json:"total_pause_duration"`
	TotalTimeAllQuestions *float64                 `json:"total_time_all_questions,omitempty"`
	FailureReason         FailureReason            `json:"failure_reason,omitempty"`
	IsWinner              bool                     `json:"is_winner"`
	Version               int64                    `json:"version"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

// AnsweredCount is the number of questions answered correctly so far.
func (p *Participant) AnsweredCount() int {
	return len(p.Durations)
}

// SumDurations adds up the recorded per-question durations.
func (p *Participant) SumDurations() float64 {
	var total float64
	for _, d := range p.Durations {
		total += d
	}
	return total
}

// QuestionIssuedAt reconstructs when the current question was issued from the
// timer origin, the recorded durations and the accumulated pause time.
// It returns false when the timer has not started.
func (p *Participant) QuestionIssuedAt() (time.Time, bool) {
	if p.TimerOrigin == nil {
		return time.Time{}, false
	}
	offset := p.SumDurations() + p.TotalPauseDuration
	return p.TimerOrigin.Add(SecondsToDuration(offset)), true
}

// SecondsToDuration converts fractional seconds to a time.Duration.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DurationToSeconds converts a duration to seconds at millisecond precision.
func DurationToSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

// QuestionDeadline is when the current question times out. It returns false
// when no question is on the clock: before start, in the payment pause, or
// after the participant finished.
func (p *Participant) QuestionDeadline(limit time.Duration) (time.Time, bool) {
	answered := p.AnsweredCount()
	switch {
	case p.Status == ParticipantStatusRunning && answered < PrePaymentQuestions:
	case p.Status == ParticipantStatusRunningPostPayment && answered < QuestionCount:
	default:
		return time.Time{}, false
	}
	issued, ok := p.QuestionIssuedAt()
	if !ok {
		return time.Time{}, false
	}
	return issued.Add(limit), true
}
