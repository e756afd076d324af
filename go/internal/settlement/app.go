package settlement

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/events"
	"github.com/mcdev12/quizpot/go/internal/fraud"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/outbox"
)

// RoundTx is the work available while the round row is locked.
type RoundTx interface {
	// ListPaidParticipants returns the round's paid participants ordered by
	// total time ascending (nulls last) then id ascending.
	ListPaidParticipants(ctx context.Context, roundID int64) ([]models.Participant, error)
	// CompleteRound flips an active round to completed. It reports false if
	// the round was not active.
	CompleteRound(ctx context.Context, round *models.Round) (bool, error)
	MarkWinner(ctx context.Context, participantID int64) error
	InsertEvents(ctx context.Context, events []outbox.OutboxEvent) error
}

// RoundStore defines what the settlement app needs from storage.
type RoundStore interface {
	// WithRoundLock runs fn in a transaction holding the round row lock.
	// fn's error rolls back. Lock waits beyond the configured timeout return
	// a ConcurrencyConflict.
	WithRoundLock(ctx context.Context, roundID int64, fn func(tx RoundTx, round *models.Round) error) error
	GetRound(ctx context.Context, roundID int64) (*models.Round, error)
}

// Hook runs after a round was settled and committed. Only the caller that
// performed the transition runs hooks.
type Hook func(ctx context.Context, round *models.Round)

// App settles rounds.
type App struct {
	store     RoundStore
	validator *fraud.Validator
	clock     clockwork.Clock
	cfg       Config
	hooks     []Hook
}

func NewApp(store RoundStore, validator *fraud.Validator, clock clockwork.Clock, cfg Config, hooks ...Hook) *App {
	return &App{
		store:     store,
		validator: validator,
		clock:     clock,
		cfg:       cfg,
		hooks:     hooks,
	}
}

// AttemptCompleteRound settles the round if it is ready. It is safe to call
// concurrently and repeatedly; at most one call ever returns Completed.
func (a *App) AttemptCompleteRound(ctx context.Context, roundID int64) (Outcome, error) {
	outcome := Outcome{RoundID: roundID}
	var settled models.Round

	err := a.store.WithRoundLock(ctx, roundID, func(tx RoundTx, round *models.Round) error {
		if round.Status != models.RoundStatusActive {
			outcome.Result = ResultNoOp
			outcome.WinnerID = round.WinnerParticipantID
			return nil
		}
		if !round.CapacityReached() {
			outcome.Result = ResultPending
			outcome.Reason = ReasonCapacity
			return nil
		}

		participants, err := tx.ListPaidParticipants(ctx, roundID)
		if err != nil {
			return fmt.Errorf("failed to list paid participants: %w", err)
		}

		now := a.clock.Now()
		if a.anyStillPlaying(participants) {
			outcome.Result = ResultPending
			outcome.Reason = ReasonStillPlaying
			return nil
		}

		winner, skipped := a.selectWinner(participants)
		if winner == nil {
			outcome.Result = ResultPending
			outcome.Reason = ReasonNoCandidate
			return nil
		}

		round.WinnerParticipantID = &winner.ID
		round.CompletedAt = &now
		ok, err := tx.CompleteRound(ctx, round)
		if err != nil {
			return fmt.Errorf("failed to complete round: %w", err)
		}
		if !ok {
			outcome.Result = ResultNoOp
			return nil
		}
		if err := tx.MarkWinner(ctx, winner.ID); err != nil {
			return fmt.Errorf("failed to mark winner: %w", err)
		}

		evs, err := buildEvents(round, winner, participants, skipped)
		if err != nil {
			return err
		}
		if err := tx.InsertEvents(ctx, evs); err != nil {
			return fmt.Errorf("failed to insert notification events: %w", err)
		}

		round.Status = models.RoundStatusCompleted
		settled = *round
		outcome.Result = ResultCompleted
		outcome.WinnerID = &winner.ID
		return nil
	})
	if err != nil {
		if apperr.IsConflict(err) {
			return a.afterContention(ctx, roundID)
		}
		return Outcome{}, fmt.Errorf("failed to settle round %d: %w", roundID, err)
	}

	if outcome.Result == ResultCompleted {
		log.Info().
			Int64("round_id", roundID).
			Int64("winner_participant_id", *outcome.WinnerID).
			Msg("round completed")
		for _, hook := range a.hooks {
			hook(ctx, &settled)
		}
	} else {
		log.Debug().
			Int64("round_id", roundID).
			Str("result", string(outcome.Result)).
			Str("reason", outcome.Reason).
			Msg("round not settled")
	}
	return outcome, nil
}

// afterContention reports the round state when another worker held the lock.
func (a *App) afterContention(ctx context.Context, roundID int64) (Outcome, error) {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to re-read round %d: %w", roundID, err)
	}
	if round.Status == models.RoundStatusCompleted {
		return Outcome{Result: ResultNoOp, RoundID: roundID, WinnerID: round.WinnerParticipantID}, nil
	}
	log.Warn().Int64("round_id", roundID).Msg("round lock contended, settlement deferred")
	return Outcome{Result: ResultPending, RoundID: roundID, Reason: ReasonLockContention}, nil
}

// anyStillPlaying reports a paid participant who can still post a time:
// paused awaiting resume, or on the clock before the current deadline.
func (a *App) anyStillPlaying(participants []models.Participant) bool {
	now := a.clock.Now()
	for i := range participants {
		p := &participants[i]
		switch p.Status {
		case models.ParticipantStatusPaymentPending:
			return true
		case models.ParticipantStatusRunningPostPayment:
			deadline, ok := p.QuestionDeadline(a.cfg.QuestionTimeLimit)
			if ok && !now.After(deadline) {
				return true
			}
		}
	}
	return false
}

// eligible applies the completion and consistency rules.
func (a *App) eligible(p *models.Participant) bool {
	if p.Status != models.ParticipantStatusCompleted ||
		p.PaymentStatus != models.ParticipantPaymentPaid ||
		p.TotalTimeAllQuestions == nil ||
		len(p.Durations) != models.QuestionCount {
		return false
	}
	return math.Abs(p.SumDurations()-*p.TotalTimeAllQuestions) <= a.cfg.DurationTolerance
}

// selectWinner walks eligible candidates fastest first (ties by lowest id)
// and returns the first one the fraud validator clears.
func (a *App) selectWinner(participants []models.Participant) (*models.Participant, []int64) {
	candidates := make([]*models.Participant, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		if !a.eligible(p) {
			if p.Status == models.ParticipantStatusCompleted {
				log.Warn().
					Int64("participant_id", p.ID).
					Int64("round_id", p.RoundID).
					Msg("completed participant ineligible, timing record inconsistent")
			}
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := *candidates[i].TotalTimeAllQuestions, *candidates[j].TotalTimeAllQuestions
		if ti != tj {
			return ti < tj
		}
		return candidates[i].ID < candidates[j].ID
	})

	var skipped []int64
	for _, c := range candidates {
		verdict := a.validator.Validate(c.Durations)
		if verdict.Suspicious {
			log.Warn().
				Str("event", "fraud_suspicion").
				Int64("participant_id", c.ID).
				Int64("round_id", c.RoundID).
				Int("score", verdict.Score).
				Strs("reasons", verdict.Reasons).
				Msg("skipping suspicious candidate")
			skipped = append(skipped, c.ID)
			continue
		}
		return c, skipped
	}
	return nil, skipped
}

func buildEvents(round *models.Round, winner *models.Participant, participants []models.Participant, skipped []int64) ([]outbox.OutboxEvent, error) {
	at := *round.CompletedAt
	var out []outbox.OutboxEvent

	ev, err := outbox.NewEvent(round.ID, events.EventWinnerDeclared, events.WinnerDeclaredPayload{
		RoundID:       round.ID,
		ParticipantID: winner.ID,
		UserID:        winner.UserID,
		TotalTime:     *winner.TotalTimeAllQuestions,
		DeclaredAt:    at,
	}, at)
	if err != nil {
		return nil, err
	}
	out = append(out, ev)

	for i := range participants {
		p := &participants[i]
		if p.ID == winner.ID {
			continue
		}
		ev, err := outbox.NewEvent(round.ID, events.EventRoundLost, events.RoundLostPayload{
			RoundID:             round.ID,
			ParticipantID:       p.ID,
			UserID:              p.UserID,
			WinnerParticipantID: winner.ID,
			TotalTime:           p.TotalTimeAllQuestions,
		}, at)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	ev, err = outbox.NewEvent(round.ID, events.EventRoundCompleted, events.RoundCompletedPayload{
		RoundID:             round.ID,
		GameID:              round.GameID,
		WinnerParticipantID: winner.ID,
		WinnerTotalTime:     *winner.TotalTimeAllQuestions,
		PaidParticipants:    len(participants),
		SkippedSuspicious:   skipped,
		CompletedAt:         at,
	}, at)
	if err != nil {
		return nil, err
	}
	return append(out, ev), nil
}
