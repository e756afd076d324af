package payment

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ppc "github.com/mcdev12/quizpot/go/clients/payment_provider_client"
	"github.com/mcdev12/quizpot/go/internal/apperr"
	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/settlement"
)

var t0 = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu       sync.Mutex
	statuses map[string]string
	getErr   error
	created  []ppc.CreatePaymentRequest
	createFn func(req ppc.CreatePaymentRequest) (*ppc.Payment, error)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: map[string]string{}}
}

func (p *fakeProvider) set(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = status
}

func (p *fakeProvider) GetPayment(_ context.Context, id string) (*ppc.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	status, ok := p.statuses[id]
	if !ok {
		status = "open"
	}
	return &ppc.Payment{ID: id, Status: status}, nil
}

func (p *fakeProvider) CreatePayment(_ context.Context, req ppc.CreatePaymentRequest) (*ppc.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, req)
	if p.createFn != nil {
		return p.createFn(req)
	}
	return &ppc.Payment{
		ID:          fmt.Sprintf("tr_%d", len(p.created)),
		Status:      "open",
		Amount:      req.Amount,
		CheckoutURL: "https://pay.example/checkout",
	}, nil
}

// fakeStore keeps payment state in maps. A single mutex stands in for the
// row lock and writes are discarded when fn fails.
type fakeStore struct {
	mu            sync.Mutex
	payments      map[string]models.Payment
	roundOf       map[int64]int64
	participantPS map[int64]models.ParticipantPaymentStatus
	paidCount     map[int64]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments:      map[string]models.Payment{},
		roundOf:       map[int64]int64{},
		participantPS: map[int64]models.ParticipantPaymentStatus{},
		paidCount:     map[int64]int{},
	}
}

func (s *fakeStore) addPayment(providerID string, participantID, roundID int64, status models.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[providerID] = models.Payment{
		ID:                int64(len(s.payments) + 1),
		ParticipantID:     participantID,
		ProviderPaymentID: providerID,
		Status:            status,
	}
	s.roundOf[participantID] = roundID
	if _, ok := s.participantPS[participantID]; !ok {
		s.participantPS[participantID] = models.ParticipantPaymentPending
	}
}

type fakeTx struct {
	s        *fakeStore
	payments map[string]models.Payment
	ps       map[int64]models.ParticipantPaymentStatus
	counts   map[int64]int
}

func (tx *fakeTx) UpdatePaymentStatus(_ context.Context, paymentID int64, status models.PaymentStatus) error {
	for k, p := range tx.payments {
		if p.ID == paymentID {
			p.Status = status
			tx.payments[k] = p
			return nil
		}
	}
	return fmt.Errorf("payment %d missing", paymentID)
}

func (tx *fakeTx) LockParticipantPayment(_ context.Context, participantID int64) (models.ParticipantPaymentStatus, error) {
	return tx.ps[participantID], nil
}

func (tx *fakeTx) SetParticipantPaymentStatus(_ context.Context, participantID int64, status models.ParticipantPaymentStatus) error {
	tx.ps[participantID] = status
	return nil
}

func (tx *fakeTx) IncrementPaidCount(_ context.Context, roundID int64) error {
	tx.counts[roundID]++
	return nil
}

func (s *fakeStore) WithPaymentLock(_ context.Context, providerID string, fn func(tx PaymentTx, p *models.Payment, roundID int64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[providerID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "payment not found")
	}
	tx := &fakeTx{s: s, payments: maps.Clone(s.payments), ps: maps.Clone(s.participantPS), counts: maps.Clone(s.paidCount)}
	if err := fn(tx, &p, s.roundOf[p.ParticipantID]); err != nil {
		return err
	}
	s.payments, s.participantPS, s.paidCount = tx.payments, tx.ps, tx.counts
	return nil
}

func (s *fakeStore) status(providerID string) models.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[providerID].Status
}

func (s *fakeStore) participantStatus(id int64) models.ParticipantPaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantPS[id]
}

func (s *fakeStore) count(roundID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paidCount[roundID]
}

type fakeResumer struct {
	mu      sync.Mutex
	calls   int
	resumed map[int64]bool
	err     error
}

func (r *fakeResumer) ResumeAfterPayment(_ context.Context, participantID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return false, r.err
	}
	if r.resumed == nil {
		r.resumed = map[int64]bool{}
	}
	if r.resumed[participantID] {
		return false, nil
	}
	r.resumed[participantID] = true
	return true, nil
}

type fakeCompleter struct {
	mu     sync.Mutex
	rounds []int64
	err    error
}

func (c *fakeCompleter) AttemptCompleteRound(_ context.Context, roundID int64) (settlement.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = append(c.rounds, roundID)
	if c.err != nil {
		return settlement.Outcome{}, c.err
	}
	return settlement.Outcome{Result: settlement.ResultPending, RoundID: roundID}, nil
}

func (c *fakeCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rounds)
}

// fakeQueue is an in-memory RetryQueue.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]RetryJob
	failures   []RetryJob
	enqueueErr error
	doneErr    map[uuid.UUID]error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[uuid.UUID]RetryJob{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, job RetryJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.jobs[job.ID] = job
	return nil
}

func (q *fakeQueue) ClaimDue(_ context.Context, now time.Time, limit int32, visibility time.Duration) ([]RetryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []RetryJob
	for id, job := range q.jobs {
		if job.Status != RetryStatusQueued || job.VisibleAt.After(now) {
			continue
		}
		job.VisibleAt = now.Add(visibility)
		q.jobs[id] = job
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > int(limit) {
		due = due[:limit]
	}
	return due, nil
}

func (q *fakeQueue) Reschedule(_ context.Context, id uuid.UUID, attempt int, visibleAt time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[id]
	job.Attempt, job.VisibleAt, job.LastError = attempt, visibleAt, lastErr
	q.jobs[id] = job
	return nil
}

func (q *fakeQueue) MarkDone(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.doneErr[id]; err != nil {
		return err
	}
	job := q.jobs[id]
	job.Status = RetryStatusDone
	q.jobs[id] = job
	return nil
}

func (q *fakeQueue) MarkPermanentFailure(_ context.Context, job RetryJob, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = RetryStatusPermanentFailure
	job.LastError = lastErr
	q.jobs[job.ID] = job
	q.failures = append(q.failures, job)
	return nil
}

func (q *fakeQueue) only() RetryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		return job
	}
	return RetryJob{}
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeCheckoutStore struct {
	participant *models.Participant
	round       *models.Round
	stored      []models.Payment
}

func (s *fakeCheckoutStore) GetParticipant(_ context.Context, id int64) (*models.Participant, error) {
	if s.participant == nil || s.participant.ID != id {
		return nil, apperr.New(apperr.KindNotFound, "participant not found")
	}
	cp := *s.participant
	return &cp, nil
}

func (s *fakeCheckoutStore) GetRound(_ context.Context, id int64) (*models.Round, error) {
	if s.round == nil || s.round.ID != id {
		return nil, apperr.New(apperr.KindNotFound, "round not found")
	}
	cp := *s.round
	return &cp, nil
}

func (s *fakeCheckoutStore) CreatePayment(_ context.Context, p *models.Payment) (*models.Payment, error) {
	cp := *p
	cp.ID = int64(len(s.stored) + 1)
	s.stored = append(s.stored, cp)
	return &cp, nil
}

type fixedDiscount decimal.Decimal

func (d fixedDiscount) DiscountPercent(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(d), nil
}
