package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizpot/go/internal/apperr"
)

type scriptedProcessor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedProcessor) ProcessEvent(context.Context, string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return ResultProcessed, nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return "", err
}

var errUnavailable = apperr.Wrap(apperr.KindTransientProvider, errors.New("503"), "payment provider unavailable")

func TestRetryPolicyDelay(t *testing.T) {
	policy := DefaultRetryPolicy()
	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second, 960 * time.Second}
	for i, d := range want {
		assert.Equal(t, d, policy.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 60*time.Second, policy.Delay(0))
}

func TestRetryWorkerBackoffThenPermanentFailure(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	queue := newFakeQueue()
	proc := &scriptedProcessor{errs: []error{errUnavailable, errUnavailable, errUnavailable, errUnavailable, errUnavailable}}
	worker := NewRetryWorker(queue, proc, DefaultRetryPolicy(), clock, DefaultWorkerConfig())

	job, err := EnqueueRetry(ctx, queue, DefaultRetryPolicy(), clock, "tr_1", []byte(`{"id":"tr_1"}`), errUnavailable)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, t0.Add(60*time.Second), job.VisibleAt)
	assert.Contains(t, job.LastError, "unavailable")

	delays := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second, 960 * time.Second}
	for i, d := range delays {
		// one second early nothing is due
		clock.Advance(d - time.Second)
		n, err := worker.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "attempt %d ran early", i+1)

		clock.Advance(time.Second)
		n, err = worker.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "attempt %d did not run", i+1)

		got := queue.only()
		if i < len(delays)-1 {
			assert.Equal(t, RetryStatusQueued, got.Status)
			assert.Equal(t, i+2, got.Attempt)
			assert.Equal(t, clock.Now().Add(delays[i+1]), got.VisibleAt)
		}
	}

	got := queue.only()
	assert.Equal(t, RetryStatusPermanentFailure, got.Status)
	assert.Equal(t, 5, got.Attempt)
	require.Len(t, queue.failures, 1)
	assert.JSONEq(t, `{"id":"tr_1"}`, string(queue.failures[0].RawPayload.RawMessage))
	assert.Equal(t, 5, proc.calls)

	clock.Advance(time.Hour)
	n, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryWorkerContinuesPastFailedJob(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	queue := newFakeQueue()
	worker := NewRetryWorker(queue, &scriptedProcessor{}, DefaultRetryPolicy(), clock, DefaultWorkerConfig())

	broken, err := EnqueueRetry(ctx, queue, DefaultRetryPolicy(), clock, "tr_1", nil, errUnavailable)
	require.NoError(t, err)
	healthy, err := EnqueueRetry(ctx, queue, DefaultRetryPolicy(), clock, "tr_2", nil, errUnavailable)
	require.NoError(t, err)
	queue.doneErr = map[uuid.UUID]error{broken.ID: errors.New("connection reset")}

	clock.Advance(60 * time.Second)
	n, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Equal(t, RetryStatusDone, queue.jobs[healthy.ID].Status)
	assert.Equal(t, RetryStatusQueued, queue.jobs[broken.ID].Status)
}

func TestRetryWorkerSucceedsAndStops(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	queue := newFakeQueue()
	proc := &scriptedProcessor{errs: []error{errUnavailable}}
	worker := NewRetryWorker(queue, proc, DefaultRetryPolicy(), clock, DefaultWorkerConfig())

	_, err := EnqueueRetry(ctx, queue, DefaultRetryPolicy(), clock, "tr_1", nil, errUnavailable)
	require.NoError(t, err)

	clock.Advance(60 * time.Second)
	_, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	clock.Advance(120 * time.Second)
	_, err = worker.RunOnce(ctx)
	require.NoError(t, err)

	got := queue.only()
	assert.Equal(t, RetryStatusDone, got.Status)
	assert.Equal(t, 2, got.Attempt)
	assert.Empty(t, queue.failures)
}

func TestRetryWorkerValidationIsPermanent(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	queue := newFakeQueue()
	proc := &scriptedProcessor{errs: []error{apperr.Validationf("unknown provider status")}}
	worker := NewRetryWorker(queue, proc, DefaultRetryPolicy(), clock, DefaultWorkerConfig())

	_, err := EnqueueRetry(ctx, queue, DefaultRetryPolicy(), clock, "tr_1", nil, errUnavailable)
	require.NoError(t, err)
	clock.Advance(60 * time.Second)
	_, err = worker.RunOnce(ctx)
	require.NoError(t, err)

	got := queue.only()
	assert.Equal(t, RetryStatusPermanentFailure, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Contains(t, got.LastError, "unknown provider status")
}

func TestRetryWorkerRunStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	queue := newFakeQueue()
	proc := &scriptedProcessor{}
	worker := NewRetryWorker(queue, proc, DefaultRetryPolicy(), clock, DefaultWorkerConfig())

	_, err := EnqueueRetry(context.Background(), queue, DefaultRetryPolicy(), clock, "tr_1", nil, errUnavailable)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(60 * time.Second)
	require.Eventually(t, func() bool { return queue.only().Status == RetryStatusDone }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
