package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

// maxPending is the backlog size reported as an error.
const maxPending = 1000

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	Relayed           uint64    `json:"events_relayed"`
	LastRelay         time.Time `json:"last_relay"`
	PendingEvents     int       `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// StatsSource is implemented by Listener.
type StatsSource interface {
	Stats() RelayStats
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	sqlutil.DBTX
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the relay is keeping up.
type HealthChecker struct {
	stats     StatsSource
	db        Pinger
	connected func() bool
	clock     clockwork.Clock
	threshold time.Duration // how long a backlog may go without a relay
}

// NewHealthChecker builds a checker. connected may be nil when no broker is used.
func NewHealthChecker(stats StatsSource, db Pinger, connected func() bool, clock clockwork.Clock, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		stats:     stats,
		db:        db,
		connected: connected,
		clock:     clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	stats := h.stats.Stats()
	status.Relayed = stats.Relayed
	status.LastRelay = stats.LastRelay
	status.ListenerActive = stats.Running
	if !status.ListenerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	status.NATSConnected = true
	if h.connected != nil && !h.connected() {
		status.NATSConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, "NATS disconnected")
	}

	if status.DatabaseConnected {
		pending, err := New(h.db).CountUnsent(ctx)
		if err != nil {
			status.Errors = append(status.Errors, err.Error())
		} else {
			status.PendingEvents = pending
			if pending > maxPending {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	// a backlog with no recent relay means the relay is stuck
	if status.PendingEvents > 0 && !status.LastRelay.IsZero() {
		if since := h.clock.Since(status.LastRelay); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}
