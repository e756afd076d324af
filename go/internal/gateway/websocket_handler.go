package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/rpc"
)

// WebSocketHandler handles WebSocket upgrade requests for status streams
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleStatusConnection streams status for ?participant_id=N.
func (h *WebSocketHandler) HandleStatusConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("participant_id")
	if raw == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}
	participantID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || participantID <= 0 {
		http.Error(w, "invalid participant_id", http.StatusBadRequest)
		return
	}

	// fail before the upgrade so unknown participants get a plain 404
	if _, err := h.connectionManager.status.Status(r.Context(), participantID); err != nil {
		http.Error(w, http.StatusText(rpc.HTTPStatus(err)), rpc.HTTPStatus(err))
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, participantID); err != nil {
		// the upgrader already wrote the HTTP error
		log.Error().
			Err(err).
			Int64("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/status", h.HandleStatusConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
