package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundStatus defines the status of a round.
type RoundStatus string

const (
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
)

// Round is one bounded competition instance of a game with a fixed player capacity.
type Round struct {
	ID                   int64           `json:"id"`
	GameID               int64           `json:"game_id"`
	Status               RoundStatus     `json:"status"`
	MaxPlayers           int             `json:"max_players"`
	PaidParticipantCount int             `json:"paid_participant_count"`
	WinnerParticipantID  *int64          `json:"winner_participant_id,omitempty"`
	EntryFee             decimal.Decimal `json:"entry_fee"`
	Currency             string          `json:"currency"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// CapacityReached reports whether enough participants have paid to settle the round.
func (r *Round) CapacityReached() bool {
	return r.PaidParticipantCount >= r.MaxPlayers
}
