package payment

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/apperr"
)

// WebhookHandler receives provider payment notifications.
type WebhookHandler struct {
	processor EventProcessor
	queue     RetryQueue
	allow     *AllowList
	clock     clockwork.Clock
	cfg       Config
}

func NewWebhookHandler(processor EventProcessor, queue RetryQueue, allow *AllowList, clock clockwork.Clock, cfg Config) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		queue:     queue,
		allow:     allow,
		clock:     clock,
		cfg:       cfg,
	}
}

type webhookResponse struct {
	Result Result `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RegisterRoutes registers the webhook route with an HTTP mux
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /webhook/payment", h)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.allow.Allowed(r.RemoteAddr) {
		logSecurity(r, apperr.ErrIPNotAllowed)
		writeWebhook(w, http.StatusForbidden, webhookResponse{Error: "forbidden"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		writeWebhook(w, http.StatusBadRequest, webhookResponse{Error: "unreadable body"})
		return
	}

	if err := VerifySignature(body, r.Header.Get(SignatureHeader), h.cfg.WebhookSecret); err != nil {
		logSecurity(r, err)
		writeWebhook(w, http.StatusForbidden, webhookResponse{Error: "forbidden"})
		return
	}

	id, err := parsePaymentID(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeWebhook(w, http.StatusBadRequest, webhookResponse{Error: err.Error()})
		return
	}

	result, err := h.processor.ProcessEvent(ctx, id)
	switch {
	case err == nil:
		writeWebhook(w, http.StatusOK, webhookResponse{Result: result})
	case apperr.IsTransient(err):
		if _, qerr := EnqueueRetry(ctx, h.queue, h.cfg.Retry, h.clock, id, body, err); qerr != nil {
			log.Error().Err(qerr).Str("provider_payment_id", id).Msg("failed to queue payment retry")
			writeWebhook(w, http.StatusInternalServerError, webhookResponse{Error: "internal error"})
			return
		}
		writeWebhook(w, http.StatusOK, webhookResponse{Result: ResultQueued})
	case apperr.IsValidation(err):
		writeWebhook(w, http.StatusBadRequest, webhookResponse{Error: err.Error()})
	case apperr.IsSecurity(err):
		logSecurity(r, err)
		writeWebhook(w, http.StatusForbidden, webhookResponse{Error: "forbidden"})
	default:
		log.Error().Err(err).Str("provider_payment_id", id).Msg("failed to process payment webhook")
		writeWebhook(w, http.StatusInternalServerError, webhookResponse{Error: "internal error"})
	}
}

// parsePaymentID accepts a form-encoded or JSON body carrying "id".
func parsePaymentID(contentType string, body []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	var id string
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return "", errors.New("malformed form body")
		}
		id = values.Get("id")
	default:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", errors.New("malformed JSON body")
		}
		id = payload.ID
	}
	if id == "" {
		return "", errors.New("payment id is required")
	}
	return id, nil
}

func logSecurity(r *http.Request, err error) {
	log.Warn().
		Str("event", "security").
		Str("remote_addr", r.RemoteAddr).
		Err(err).
		Msg("webhook rejected")
}

func writeWebhook(w http.ResponseWriter, status int, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write webhook response")
	}
}
