package timing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/settlement"
)

// ParticipantRepository defines what the timing app needs from storage.
type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error)
	GetParticipant(ctx context.Context, id int64) (*models.Participant, error)
	// SaveTimerState writes the timer columns if p.Version still matches and
	// bumps the version. A stale version returns apperr.ErrVersionConflict.
	SaveTimerState(ctx context.Context, p *models.Participant) error
	// ListTimed returns participants that have a question on the clock, plus
	// paid participants still paused and post-payment participants with
	// every answer recorded, earliest question issue time first.
	ListTimed(ctx context.Context, limit int32) ([]models.Participant, error)
}

// RoundReader looks up rounds for join checks.
type RoundReader interface {
	GetRound(ctx context.Context, roundID int64) (*models.Round, error)
}

// AnswerKey resolves the expected answer for a question position in a round.
type AnswerKey interface {
	CorrectAnswer(ctx context.Context, roundID int64, position int) (string, error)
}

// RoundCompleter settles a round once a participant finishes.
type RoundCompleter interface {
	AttemptCompleteRound(ctx context.Context, roundID int64) (settlement.Outcome, error)
}

// App runs the per-participant timer state machine. All state is persisted
// on the participant row; the App holds none between calls.
type App struct {
	repo      ParticipantRepository
	rounds    RoundReader
	answers   AnswerKey
	completer RoundCompleter
	clock     clockwork.Clock
	cfg       Config
}

func NewApp(repo ParticipantRepository, rounds RoundReader, answers AnswerKey, completer RoundCompleter, clock clockwork.Clock, cfg Config) *App {
	return &App{
		repo:      repo,
		rounds:    rounds,
		answers:   answers,
		completer: completer,
		clock:     clock,
		cfg:       cfg,
	}
}

// Join registers a user in an active round.
func (a *App) Join(ctx context.Context, roundID int64, userID, fingerprint string) (*models.Participant, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validationf("user id is required")
	}
	round, err := a.rounds.GetRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	if round.Status != models.RoundStatusActive {
		return nil, apperr.ErrRoundNotActive
	}

	p, err := a.repo.CreateParticipant(ctx, &models.Participant{
		RoundID:           roundID,
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		Status:            models.ParticipantStatusNotStarted,
		PaymentStatus:     models.ParticipantPaymentPending,
		Durations:         []float64{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	log.Info().Int64("participant_id", p.ID).Int64("round_id", roundID).Msg("participant joined")
	return p, nil
}

// Start puts the first question on the clock.
func (a *App) Start(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error) {
	p, err := a.load(ctx, participantID, fingerprint)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ParticipantStatusNotStarted {
		return nil, apperr.ErrAlreadyStarted
	}

	now := a.clock.Now()
	p.TimerOrigin = &now
	p.Status = models.ParticipantStatusRunning
	if err := a.save(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Int64("participant_id", p.ID).Time("timer_origin", now).Msg("timer started")
	return p, nil
}

// RecordAnswer checks one answer against the server-side clock.
func (a *App) RecordAnswer(ctx context.Context, req AnswerRequest) (AnswerOutcome, error) {
	_, outcome, err := a.recordAnswer(ctx, req)
	return outcome, err
}

// SubmitAnswer records the answer and completes the participant after a
// correct final answer.
func (a *App) SubmitAnswer(ctx context.Context, req AnswerRequest) (AnswerOutcome, error) {
	p, outcome, err := a.recordAnswer(ctx, req)
	if err != nil || outcome != OutcomeCorrect {
		return outcome, err
	}
	if p.AnsweredCount() < models.QuestionCount {
		return OutcomeCorrect, nil
	}
	if _, err := a.Complete(ctx, req.ParticipantID, req.Fingerprint); err != nil {
		return OutcomeCorrect, fmt.Errorf("failed to complete participant: %w", err)
	}
	return OutcomeComplete, nil
}

func (a *App) recordAnswer(ctx context.Context, req AnswerRequest) (*models.Participant, AnswerOutcome, error) {
	p, err := a.load(ctx, req.ParticipantID, req.Fingerprint)
	if err != nil {
		return nil, "", err
	}

	switch {
	case p.Status == models.ParticipantStatusFailed &&
		p.FailureReason == models.FailureReasonTimeout &&
		req.QuestionIndex == p.AnsweredCount()+1:
		// the sweeper expired the question this answer was for
		return p, OutcomeTimeout, nil
	case p.Status.Terminal():
		return nil, "", apperr.ErrParticipantFinished
	case p.Status == models.ParticipantStatusNotStarted:
		return nil, "", apperr.ErrNotStarted
	case p.Status == models.ParticipantStatusPaymentPending:
		return nil, "", apperr.ErrPaymentRequired
	case p.Status == models.ParticipantStatusRunning && p.AnsweredCount() >= models.PrePaymentQuestions:
		return nil, "", apperr.ErrPaymentRequired
	}

	expected := p.AnsweredCount() + 1
	if req.QuestionIndex != expected {
		return nil, "", fmt.Errorf("%w: expected question %d, got %d", apperr.ErrWrongQuestion, expected, req.QuestionIndex)
	}

	received := req.ServerReceived
	if received.IsZero() {
		received = a.clock.Now()
	}
	issued, _ := p.QuestionIssuedAt()
	elapsed := received.Sub(issued)
	if elapsed < 0 {
		elapsed = 0
	}

	if req.ClientTimestamp != nil {
		if drift := received.Sub(*req.ClientTimestamp); drift > a.cfg.MaxClientDrift || -drift > a.cfg.MaxClientDrift {
			log.Warn().
				Int64("participant_id", p.ID).
				Dur("drift", drift).
				Msg("client clock drift")
		}
	}

	if elapsed > a.cfg.QuestionTimeLimit {
		if err := a.fail(ctx, p, models.FailureReasonTimeout); err != nil {
			return nil, "", err
		}
		log.Info().
			Int64("participant_id", p.ID).
			Int("question", expected).
			Dur("elapsed", elapsed).
			Msg("answer timed out")
		return p, OutcomeTimeout, nil
	}

	correct, err := a.answers.CorrectAnswer(ctx, p.RoundID, expected)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get answer key: %w", err)
	}
	if !answersMatch(req.Answer, correct) {
		if err := a.fail(ctx, p, models.FailureReasonWrongAnswer); err != nil {
			return nil, "", err
		}
		log.Info().Int64("participant_id", p.ID).Int("question", expected).Msg("wrong answer")
		return p, OutcomeWrong, nil
	}

	p.Durations = append(p.Durations, models.DurationToSeconds(elapsed))
	if err := a.save(ctx, p); err != nil {
		return nil, "", err
	}
	log.Debug().
		Int64("participant_id", p.ID).
		Int("question", expected).
		Float64("duration", models.DurationToSeconds(elapsed)).
		Msg("answer recorded")
	return p, OutcomeCorrect, nil
}

// Pause stops the clock after question 3 until payment is confirmed.
func (a *App) Pause(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error) {
	p, err := a.load(ctx, participantID, fingerprint)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ParticipantStatusPaymentPending {
		return nil, apperr.ErrAlreadyPaused
	}
	if p.Status != models.ParticipantStatusRunning || p.AnsweredCount() != models.PrePaymentQuestions {
		return nil, apperr.ErrPauseNotAllowed
	}

	now := a.clock.Now()
	p.PausedAt = &now
	p.PrePaymentElapsed = roundMillis(p.SumDurations())
	p.Status = models.ParticipantStatusPaymentPending
	if err := a.save(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Int64("participant_id", p.ID).Float64("pre_payment_elapsed", p.PrePaymentElapsed).Msg("timer paused for payment")
	return p, nil
}

// Resume restarts the clock at question 4 on the participant's device.
func (a *App) Resume(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error) {
	p, err := a.load(ctx, participantID, fingerprint)
	if err != nil {
		return nil, err
	}
	if _, err := a.resume(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ResumeAfterPayment is the system path taken by the payment reconciler. It
// reports whether this call resumed the timer; anything but a paused
// participant is left alone. Version conflicts are retried.
func (a *App) ResumeAfterPayment(ctx context.Context, participantID int64) (bool, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		p, err := a.repo.GetParticipant(ctx, participantID)
		if err != nil {
			return false, fmt.Errorf("failed to get participant: %w", err)
		}
		if p.Status != models.ParticipantStatusPaymentPending {
			return false, nil
		}
		resumed, err := a.resume(ctx, p)
		if err == nil {
			return resumed, nil
		}
		if !apperr.IsConflict(err) {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

func (a *App) resume(ctx context.Context, p *models.Participant) (bool, error) {
	switch p.Status {
	case models.ParticipantStatusRunningPostPayment:
		return false, nil
	case models.ParticipantStatusCompleted, models.ParticipantStatusFailed:
		return false, apperr.ErrParticipantFinished
	case models.ParticipantStatusPaymentPending:
	default:
		return false, apperr.ErrNotPaused
	}
	if p.PaymentStatus != models.ParticipantPaymentPaid {
		return false, apperr.ErrPaymentNotConfirmed
	}

	now := a.clock.Now()
	// the pause runs from question 3 completion until now
	issued, _ := p.QuestionIssuedAt()
	if gap := now.Sub(issued); gap > 0 {
		p.TotalPauseDuration = roundMillis(p.TotalPauseDuration + models.DurationToSeconds(gap))
	}
	p.PausedAt = nil
	p.Status = models.ParticipantStatusRunningPostPayment
	if err := a.save(ctx, p); err != nil {
		return false, err
	}
	log.Info().
		Int64("participant_id", p.ID).
		Float64("total_pause_duration", p.TotalPauseDuration).
		Msg("timer resumed at question 4")
	return true, nil
}

// Complete finalizes the participant after a correct question 9 and asks
// the engine to settle the round. Settlement errors are logged, not returned.
func (a *App) Complete(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error) {
	p, err := a.load(ctx, participantID, fingerprint)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Status == models.ParticipantStatusCompleted:
		a.settle(ctx, p.RoundID)
		return p, nil
	case p.Status != models.ParticipantStatusRunningPostPayment || p.AnsweredCount() != models.QuestionCount:
		return nil, apperr.ErrNotAllAnswered
	}
	if err := a.finish(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// finish records the total for a participant with every answer in and
// settles the round.
func (a *App) finish(ctx context.Context, p *models.Participant) error {
	total := roundMillis(p.SumDurations())
	p.TotalTimeAllQuestions = &total
	p.Status = models.ParticipantStatusCompleted
	if err := a.save(ctx, p); err != nil {
		return err
	}
	log.Info().Int64("participant_id", p.ID).Float64("total_time", total).Msg("participant completed")

	a.settle(ctx, p.RoundID)
	return nil
}

// Status reconstructs the timer view from the persisted row.
func (a *App) Status(ctx context.Context, participantID int64) (*StatusSnapshot, error) {
	p, err := a.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return a.snapshot(p), nil
}

func (a *App) snapshot(p *models.Participant) *StatusSnapshot {
	s := &StatusSnapshot{
		ParticipantID: p.ID,
		RoundID:       p.RoundID,
		State:         p.Status,
		PaymentStatus: p.PaymentStatus,
		Answered:      p.AnsweredCount(),
		TotalTime:     p.TotalTimeAllQuestions,
		FailureReason: p.FailureReason,
		IsWinner:      p.IsWinner,
	}
	if !p.Status.Terminal() && s.Answered < models.QuestionCount {
		s.Question = s.Answered + 1
	}
	if deadline, ok := p.QuestionDeadline(a.cfg.QuestionTimeLimit); ok {
		remaining := deadline.Sub(a.clock.Now())
		if remaining <= 0 {
			s.Expired = true
			remaining = 0
		}
		s.TimeRemaining = models.DurationToSeconds(remaining)
	}
	return s
}

// ExpireOverdue fails participants whose current question deadline has
// passed and re-evaluates their rounds. It also repairs rows a crashed
// request left behind: paid participants still paused are resumed, and
// participants with all nine answers recorded are completed. It returns how
// many were failed.
func (a *App) ExpireOverdue(ctx context.Context) (int, error) {
	timed, err := a.repo.ListTimed(ctx, a.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list timed participants: %w", err)
	}

	now := a.clock.Now()
	expired := 0
	for i := range timed {
		p := &timed[i]
		switch {
		case p.Status == models.ParticipantStatusPaymentPending:
			// paid but never resumed; the webhook path lost the resume
			if _, err := a.resume(ctx, p); err != nil && !apperr.IsConflict(err) {
				return expired, err
			}
			continue
		case p.Status == models.ParticipantStatusRunningPostPayment && p.AnsweredCount() == models.QuestionCount:
			if err := a.finish(ctx, p); err != nil && !apperr.IsConflict(err) {
				return expired, err
			}
			continue
		}
		deadline, ok := p.QuestionDeadline(a.cfg.QuestionTimeLimit)
		if !ok || !now.After(deadline) {
			continue
		}
		if err := a.fail(ctx, p, models.FailureReasonTimeout); err != nil {
			if apperr.IsConflict(err) {
				// the participant moved on since the list was read
				continue
			}
			return expired, err
		}
		expired++
		log.Info().Int64("participant_id", p.ID).Time("deadline", deadline).Msg("participant timed out")
	}
	return expired, nil
}

// load fetches the participant and enforces device continuity. The first
// fingerprint seen is bound to the participant.
func (a *App) load(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error) {
	p, err := a.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	if p.DeviceFingerprint == "" {
		p.DeviceFingerprint = fingerprint
		return p, nil
	}
	if p.DeviceFingerprint == fingerprint {
		return p, nil
	}

	log.Warn().
		Str("event", "security").
		Int64("participant_id", p.ID).
		Int64("round_id", p.RoundID).
		Msg("device fingerprint mismatch")
	if !p.Status.Terminal() {
		if err := a.fail(ctx, p, models.FailureReasonDeviceMismatch); err != nil && !apperr.IsConflict(err) {
			return nil, err
		}
	}
	return nil, apperr.ErrDeviceMismatch
}

// fail moves p to the terminal failed state. Paid participants may have been
// holding settlement back, so their round is re-evaluated.
func (a *App) fail(ctx context.Context, p *models.Participant, reason models.FailureReason) error {
	if !p.Status.CanTransitionTo(models.ParticipantStatusFailed) {
		return apperr.ErrParticipantFinished
	}
	p.Status = models.ParticipantStatusFailed
	p.FailureReason = reason
	p.PausedAt = nil
	if err := a.save(ctx, p); err != nil {
		return err
	}
	if p.PaymentStatus == models.ParticipantPaymentPaid {
		a.settle(ctx, p.RoundID)
	}
	return nil
}

func (a *App) save(ctx context.Context, p *models.Participant) error {
	if err := a.repo.SaveTimerState(ctx, p); err != nil {
		if errors.Is(err, apperr.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to save participant %d: %w", p.ID, err)
	}
	return nil
}

func (a *App) settle(ctx context.Context, roundID int64) {
	if a.completer == nil {
		return
	}
	outcome, err := a.completer.AttemptCompleteRound(ctx, roundID)
	if err != nil {
		log.Error().Err(err).Int64("round_id", roundID).Msg("failed to attempt round completion")
		return
	}
	log.Debug().
		Int64("round_id", roundID).
		Str("result", string(outcome.Result)).
		Msg("round completion attempted")
}

func answersMatch(given, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(expected))
}

func roundMillis(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}
