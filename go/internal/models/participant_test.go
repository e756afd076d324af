package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParticipantStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ParticipantStatus
		want     bool
	}{
		{ParticipantStatusNotStarted, ParticipantStatusRunning, true},
		{ParticipantStatusRunning, ParticipantStatusPaymentPending, true},
		{ParticipantStatusPaymentPending, ParticipantStatusRunningPostPayment, true},
		{ParticipantStatusRunningPostPayment, ParticipantStatusCompleted, true},
		{ParticipantStatusRunning, ParticipantStatusFailed, true},
		{ParticipantStatusPaymentPending, ParticipantStatusRunning, false},
		{ParticipantStatusCompleted, ParticipantStatusFailed, false},
		{ParticipantStatusFailed, ParticipantStatusRunning, false},
		{ParticipantStatus("bogus"), ParticipantStatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, PaymentStatusCreated.CanTransitionTo(PaymentStatusPending))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPaid))
	assert.True(t, PaymentStatusCreated.CanTransitionTo(PaymentStatusExpired))
	assert.False(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusPending.CanTransitionTo(PaymentStatusCreated))
}

func TestQuestionIssuedAt(t *testing.T) {
	origin := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &Participant{
		TimerOrigin:        &origin,
		Durations:          []float64{1.5, 2.25, 1},
		TotalPauseDuration: 30,
	}

	issued, ok := p.QuestionIssuedAt()
	assert.True(t, ok)
	assert.Equal(t, origin.Add(34750*time.Millisecond), issued)

	_, ok = (&Participant{}).QuestionIssuedAt()
	assert.False(t, ok)
}

func TestDurationToSeconds(t *testing.T) {
	assert.Equal(t, 1.234, DurationToSeconds(1234567*time.Microsecond))
}

func TestQuestionDeadline(t *testing.T) {
	origin := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limit := 10 * time.Second

	running := &Participant{Status: ParticipantStatusRunning, TimerOrigin: &origin, Durations: []float64{2}}
	deadline, ok := running.QuestionDeadline(limit)
	assert.True(t, ok)
	assert.Equal(t, origin.Add(12*time.Second), deadline)

	awaitingPause := &Participant{Status: ParticipantStatusRunning, TimerOrigin: &origin, Durations: []float64{1, 1, 1}}
	_, ok = awaitingPause.QuestionDeadline(limit)
	assert.False(t, ok)

	paused := &Participant{Status: ParticipantStatusPaymentPending, TimerOrigin: &origin, Durations: []float64{1, 1, 1}}
	_, ok = paused.QuestionDeadline(limit)
	assert.False(t, ok)

	resumed := &Participant{Status: ParticipantStatusRunningPostPayment, TimerOrigin: &origin, Durations: []float64{1, 1, 1}, TotalPauseDuration: 60}
	deadline, ok = resumed.QuestionDeadline(limit)
	assert.True(t, ok)
	assert.Equal(t, origin.Add(73*time.Second), deadline)
}
