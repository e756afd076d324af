package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizpot/go/internal/apperr"
)

const testSecret = "whsec_test"

type stubProcessor struct {
	result Result
	err    error
	ids    []string
}

func (p *stubProcessor) ProcessEvent(_ context.Context, id string) (Result, error) {
	p.ids = append(p.ids, id)
	return p.result, p.err
}

func newTestWebhook(t *testing.T, proc EventProcessor, queue RetryQueue) *http.ServeMux {
	t.Helper()
	allow, err := NewAllowList([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.WebhookSecret = testSecret
	mux := http.NewServeMux()
	NewWebhookHandler(proc, queue, allow, clockwork.NewFakeClockAt(t0), cfg).RegisterRoutes(mux)
	return mux
}

func webhookRequest(body, contentType, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:40000"
	req.Header.Set("Content-Type", contentType)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	return req
}

func decodeWebhook(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWebhookResponses(t *testing.T) {
	jsonBody := `{"id":"tr_1"}`

	tests := []struct {
		name       string
		procErr    error
		result     Result
		body       string
		sig        string
		remoteAddr string
		wantStatus int
		wantResult Result
		wantCalled bool
	}{
		{name: "processed", result: ResultProcessed, body: jsonBody, wantStatus: http.StatusOK, wantResult: ResultProcessed, wantCalled: true},
		{name: "duplicate", result: ResultNoOp, body: jsonBody, wantStatus: http.StatusOK, wantResult: ResultNoOp, wantCalled: true},
		{name: "bad signature", body: jsonBody, sig: "deadbeef", wantStatus: http.StatusForbidden},
		{name: "ip not allowed", body: jsonBody, remoteAddr: "198.51.100.1:5000", wantStatus: http.StatusForbidden},
		{name: "missing id", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "validation error", procErr: apperr.Validationf("unknown status"), body: jsonBody, wantStatus: http.StatusBadRequest, wantCalled: true},
		{name: "security error", procErr: apperr.ErrInvalidSignature, body: jsonBody, wantStatus: http.StatusForbidden, wantCalled: true},
		{name: "internal error", procErr: errors.New("db down"), body: jsonBody, wantStatus: http.StatusInternalServerError, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{result: tt.result, err: tt.procErr}
			mux := newTestWebhook(t, proc, newFakeQueue())

			sig := tt.sig
			if sig == "" {
				sig = Sign([]byte(tt.body), testSecret)
			}
			req := webhookRequest(tt.body, "application/json", sig)
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, len(proc.ids) == 1)
			if tt.wantResult != "" {
				assert.Equal(t, tt.wantResult, decodeWebhook(t, rec).Result)
			}
		})
	}
}

func TestWebhookFormBody(t *testing.T) {
	proc := &stubProcessor{result: ResultProcessed}
	mux := newTestWebhook(t, proc, newFakeQueue())

	body := "id=tr_form"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, webhookRequest(body, "application/x-www-form-urlencoded", "sha256="+Sign([]byte(body), testSecret)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tr_form"}, proc.ids)
}

func TestWebhookTransientQueuesRetry(t *testing.T) {
	proc := &stubProcessor{err: errUnavailable}
	queue := newFakeQueue()
	mux := newTestWebhook(t, proc, queue)

	body := `{"id":"tr_1"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, webhookRequest(body, "application/json", Sign([]byte(body), testSecret)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultQueued, decodeWebhook(t, rec).Result)
	require.Equal(t, 1, queue.len())
	job := queue.only()
	assert.Equal(t, "tr_1", job.ProviderPaymentID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, t0.Add(time.Minute), job.VisibleAt)
	assert.Equal(t, RetryStatusQueued, job.Status)
	assert.JSONEq(t, body, string(job.RawPayload.RawMessage))
}

func TestWebhookEnqueueFailure(t *testing.T) {
	proc := &stubProcessor{err: errUnavailable}
	queue := newFakeQueue()
	queue.enqueueErr = errors.New("db down")
	mux := newTestWebhook(t, proc, queue)

	body := `{"id":"tr_1"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, webhookRequest(body, "application/json", Sign([]byte(body), testSecret)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	proc := &stubProcessor{result: ResultProcessed}
	mux := newTestWebhook(t, proc, newFakeQueue())

	body := `{"id":"` + strings.Repeat("x", 70<<10) + `"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, webhookRequest(body, "application/json", Sign([]byte(body), testSecret)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, proc.ids)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	mux := newTestWebhook(t, &stubProcessor{}, newFakeQueue())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/payment", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
