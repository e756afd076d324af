package settlement

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/rpc"
)

// Completer settles a round on demand.
type Completer interface {
	AttemptCompleteRound(ctx context.Context, roundID int64) (Outcome, error)
}

// AdminHandler lets operators trigger settlement of a round.
type AdminHandler struct {
	completer Completer
	token     string
}

func NewAdminHandler(completer Completer, token string) *AdminHandler {
	return &AdminHandler{completer: completer, token: token}
}

// RegisterRoutes registers admin routes with an HTTP mux
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/rounds/{id}/settle", h.HandleSettle)
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) == 1
}

func (h *AdminHandler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		log.Warn().Str("event", "security").Str("remote_addr", r.RemoteAddr).Msg("admin request rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	roundID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || roundID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid round id"})
		return
	}

	outcome, err := h.completer.AttemptCompleteRound(r.Context(), roundID)
	if err != nil {
		status := rpc.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Int64("round_id", roundID).Msg("admin settlement failed")
			writeJSON(w, status, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	log.Info().Int64("round_id", roundID).Str("result", string(outcome.Result)).Msg("admin settlement attempted")
	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
