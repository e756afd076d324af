package timing

import (
	"time"

	"github.com/mcdev12/quizpot/go/internal/models"
)

// AnswerOutcome is the result of submitting an answer.
type AnswerOutcome string

const (
	OutcomeCorrect  AnswerOutcome = "correct"
	OutcomeWrong    AnswerOutcome = "wrong"
	OutcomeTimeout  AnswerOutcome = "timeout"
	OutcomeComplete AnswerOutcome = "complete"
)

// AnswerRequest carries one answer submission. ServerReceived is stamped by
// the transport; ClientTimestamp is advisory.
type AnswerRequest struct {
	ParticipantID   int64
	Fingerprint     string
	QuestionIndex   int
	Answer          string
	ServerReceived  time.Time
	ClientTimestamp *time.Time
}

// StatusSnapshot is the participant state reconstructed from storage.
type StatusSnapshot struct {
	ParticipantID int64                           `json:"participant_id"`
	RoundID       int64                           `json:"round_id"`
	State         models.ParticipantStatus        `json:"state"`
	PaymentStatus models.ParticipantPaymentStatus `json:"payment_status"`
	Question      int                             `json:"question"`
	Answered      int                             `json:"answered"`
	TimeRemaining float64                         `json:"time_remaining"`
	Expired       bool                            `json:"expired"`
	TotalTime     *float64                        `json:"total_time,omitempty"`
	FailureReason models.FailureReason            `json:"failure_reason,omitempty"`
	IsWinner      bool                            `json:"is_winner"`
}

type Config struct {
	QuestionTimeLimit time.Duration `yaml:"question_time_limit"`
	// MaxClientDrift is the client clock skew tolerated before it is logged.
	MaxClientDrift time.Duration `yaml:"max_client_drift"`
	// SweepBatchSize bounds how many timed participants one sweep inspects.
	SweepBatchSize int32         `yaml:"sweep_batch_size"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

func DefaultConfig() Config {
	return Config{
		QuestionTimeLimit: 10 * time.Second,
		MaxClientDrift:    2 * time.Second,
		SweepBatchSize:    500,
		SweepInterval:     time.Second,
	}
}
