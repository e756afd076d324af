package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/sqlutil"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "notification_outbox_events",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Listener relays outbox rows to an EventPublisher. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several relays can run side by side.
type Listener struct {
	db        sqlutil.TxBeginner
	listener  *pq.Listener
	publisher EventPublisher
	cfg       ListenerConfig

	mu        sync.Mutex
	running   bool
	relayed   uint64
	lastRelay time.Time
}

// RelayStats summarises what a Listener has relayed since it started.
type RelayStats struct {
	Running   bool      `json:"running"`
	Relayed   uint64    `json:"relayed"`
	LastRelay time.Time `json:"last_relay"`
}

func (l *Listener) Stats() RelayStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return RelayStats{Running: l.running, Relayed: l.relayed, LastRelay: l.lastRelay}
}

func (l *Listener) recordRelay(n int) {
	if n == 0 {
		return
	}
	l.mu.Lock()
	l.relayed += uint64(n)
	l.lastRelay = time.Now()
	l.mu.Unlock()
}

func (l *Listener) setRunning(running bool) {
	l.mu.Lock()
	l.running = running
	l.mu.Unlock()
}

func NewListener(db sqlutil.TxBeginner, publisher EventPublisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{
		db:        db,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")
	l.setRunning(true)
	defer l.setRunning(false)

	// pick up anything written while the relay was down
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established, events may have been missed
				if err := l.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification publishes the event whose id is carried in the NOTIFY payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	err = sqlutil.Run(ctx, l.db, newTxQueries, func(q *Queries) error {
		event, err := q.FetchByID(ctx, id)
		if err != nil {
			return err
		}
		if err := l.publishWithRetry(ctx, *event); err != nil {
			return err
		}
		return q.MarkSent(ctx, id)
	})
	if errors.Is(err, ErrNotFound) {
		// another relay got it first
		log.Debug().Str("event_id", id.String()).Msg("outbox event already handled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to relay event %s: %w", id, err)
	}

	l.recordRelay(1)
	log.Info().Str("event_id", id.String()).Msg("published and marked event as sent")
	return nil
}

// processUnsent drains one batch of unsent events.
func (l *Listener) processUnsent(ctx context.Context) error {
	sent := 0
	err := sqlutil.Run(ctx, l.db, newTxQueries, func(q *Queries) error {
		unsent, err := q.FetchUnsent(ctx, l.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, event := range unsent {
			if err := l.publishWithRetry(ctx, event); err != nil {
				log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish event")
				continue
			}
			if err := q.MarkSent(ctx, event.ID); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if sent > 0 {
		l.recordRelay(sent)
		log.Info().Int("count", sent).Msg("relayed unsent outbox events")
	}
	return nil
}

// publishWithRetry retries with a linearly growing delay.
func (l *Listener) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}
