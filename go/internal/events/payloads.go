package events

import (
	"time"
)

// Event types written to the notification outbox.
const (
	EventWinnerDeclared = "WinnerDeclared"
	EventRoundLost      = "RoundLost"
	EventRoundCompleted = "RoundCompleted"
)

// WinnerDeclaredPayload is the payload for a WinnerDeclared event
type WinnerDeclaredPayload struct {
	RoundID       int64     `json:"round_id"`
	ParticipantID int64     `json:"participant_id"`
	UserID        string    `json:"user_id"`
	TotalTime     float64   `json:"total_time"`
	DeclaredAt    time.Time `json:"declared_at"`
}

// RoundLostPayload is the payload for a RoundLost event sent to every other paid participant
type RoundLostPayload struct {
	RoundID             int64    `json:"round_id"`
	ParticipantID       int64    `json:"participant_id"`
	UserID              string   `json:"user_id"`
	WinnerParticipantID int64    `json:"winner_participant_id"`
	TotalTime           *float64 `json:"total_time,omitempty"`
}

// RoundCompletedPayload is the payload for a RoundCompleted event
type RoundCompletedPayload struct {
	RoundID             int64     `json:"round_id"`
	GameID              int64     `json:"game_id"`
	WinnerParticipantID int64     `json:"winner_participant_id"`
	WinnerTotalTime     float64   `json:"winner_total_time"`
	PaidParticipants    int       `json:"paid_participants"`
	SkippedSuspicious   []int64   `json:"skipped_suspicious,omitempty"`
	CompletedAt         time.Time `json:"completed_at"`
}
