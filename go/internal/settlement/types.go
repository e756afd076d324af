package settlement

import (
	"time"
)

// Result is what a completion attempt did to the round.
type Result string

const (
	// ResultNoOp means the round was already completed.
	ResultNoOp Result = "noop"
	// ResultPending means the round cannot be settled yet.
	ResultPending Result = "pending"
	// ResultCompleted means this call settled the round.
	ResultCompleted Result = "completed"
)

// Outcome is returned by AttemptCompleteRound. WinnerID is set for Completed
// and, when known, for NoOp.
type Outcome struct {
	Result   Result `json:"result"`
	RoundID  int64  `json:"round_id"`
	WinnerID *int64 `json:"winner_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Pending reasons.
const (
	ReasonCapacity       = "capacity_not_reached"
	ReasonStillPlaying   = "participants_still_playing"
	ReasonNoCandidate    = "no_eligible_candidate"
	ReasonLockContention = "lock_contention"
)

type Config struct {
	// DurationTolerance is the allowed gap in seconds between the stored total
	// and the sum of the per-question durations.
	DurationTolerance float64 `yaml:"duration_tolerance"`
	// QuestionTimeLimit bounds each question; used to decide whether a paid
	// participant can still finish. It is copied from the timing config at load.
	QuestionTimeLimit time.Duration `yaml:"-"`
	AutoRestart       bool          `yaml:"auto_restart"`
}

func DefaultConfig() Config {
	return Config{
		DurationTolerance: 0.01,
		QuestionTimeLimit: 10 * time.Second,
		AutoRestart:       true,
	}
}
