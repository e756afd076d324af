package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is a notification intent written in the same transaction as the
// state change it announces.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	RoundID   int64           `json:"round_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// EventPublisher hands an outbox event to the notification queue.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// NewEvent marshals payload into a new outbox event.
func NewEvent(roundID int64, eventType string, payload any, at time.Time) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if len(data) == 0 || string(data) == "null" {
		return OutboxEvent{}, fmt.Errorf("event payload cannot be empty")
	}
	return OutboxEvent{
		ID:        uuid.New(),
		RoundID:   roundID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: at,
	}, nil
}
