// Package fraud judges whether a completed participant's per-question timing
// looks like a human playing.
package fraud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Config holds the plausibility thresholds and the weight each check adds to
// the risk score.
type Config struct {
	MinDuration          float64 `yaml:"min_duration"`
	MaxDuration          float64 `yaml:"max_duration"`
	LowVarianceStdDev    float64 `yaml:"low_variance_std_dev"`
	ProgressionTolerance float64 `yaml:"progression_tolerance"`
	MinTotal             float64 `yaml:"min_total"`
	MaxTotal             float64 `yaml:"max_total"`

	OutOfBoundsWeight int `yaml:"out_of_bounds_weight"`
	LowVarianceWeight int `yaml:"low_variance_weight"`
	ProgressionWeight int `yaml:"progression_weight"`
	TotalRangeWeight  int `yaml:"total_range_weight"`
	Threshold         int `yaml:"threshold"`
}

// DefaultConfig returns thresholds tuned for nine questions with a ten second limit.
func DefaultConfig() Config {
	return Config{
		MinDuration:          0.5,
		MaxDuration:          10,
		LowVarianceStdDev:    0.1,
		ProgressionTolerance: 0.02,
		MinTotal:             5,
		MaxTotal:             90,

		OutOfBoundsWeight: 50,
		LowVarianceWeight: 50,
		ProgressionWeight: 50,
		TotalRangeWeight:  30,
		Threshold:         50,
	}
}

// Verdict is the outcome of a validation. A suspicious verdict demotes a
// winner candidate; it is not an error.
type Verdict struct {
	Suspicious bool     `json:"suspicious"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Validator scores timing data. It has no state beyond its config and is safe
// for concurrent use.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate scores the ordered per-question durations of a completed participant.
func (v *Validator) Validate(durations []float64) Verdict {
	var verdict Verdict
	flag := func(weight int, reason string) {
		verdict.Score += weight
		verdict.Reasons = append(verdict.Reasons, reason)
	}

	if len(durations) == 0 {
		flag(v.cfg.Threshold, "no durations recorded")
		verdict.Suspicious = true
		return verdict
	}

	for i, d := range durations {
		if d < v.cfg.MinDuration {
			flag(v.cfg.OutOfBoundsWeight, fmt.Sprintf("question %d answered in %.3fs, below %.3fs", i+1, d, v.cfg.MinDuration))
			break
		}
		if d > v.cfg.MaxDuration {
			flag(v.cfg.OutOfBoundsWeight, fmt.Sprintf("question %d took %.3fs, above %.3fs", i+1, d, v.cfg.MaxDuration))
			break
		}
	}

	if len(durations) > 3 {
		if sd := stdDev(durations); sd < v.cfg.LowVarianceStdDev {
			flag(v.cfg.LowVarianceWeight, fmt.Sprintf("standard deviation %.3fs below %.3fs", sd, v.cfg.LowVarianceStdDev))
		}
	}

	if isArithmeticProgression(durations, v.cfg.ProgressionTolerance) {
		flag(v.cfg.ProgressionWeight, "durations form an arithmetic progression")
	}

	total := floats.Sum(durations)
	if total < v.cfg.MinTotal || total > v.cfg.MaxTotal {
		flag(v.cfg.TotalRangeWeight, fmt.Sprintf("total %.3fs outside [%.1fs, %.1fs]", total, v.cfg.MinTotal, v.cfg.MaxTotal))
	}

	verdict.Suspicious = verdict.Score >= v.cfg.Threshold
	return verdict
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	_, sd := stat.PopMeanStdDev(values, nil)
	return sd
}

// isArithmeticProgression needs at least three points so there are two
// differences to compare.
func isArithmeticProgression(values []float64, tolerance float64) bool {
	if len(values) < 3 {
		return false
	}
	step := values[1] - values[0]
	for i := 2; i < len(values); i++ {
		if math.Abs((values[i]-values[i-1])-step) > tolerance {
			return false
		}
	}
	return true
}
