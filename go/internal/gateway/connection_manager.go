package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizpot/go/internal/timing"
)

// StatusProvider reconstructs a participant's timer view.
type StatusProvider interface {
	Status(ctx context.Context, participantID int64) (*timing.StatusSnapshot, error)
}

// ConnectionManager pushes status snapshots to WebSocket clients. The server
// clock stays authoritative; clients only render the countdown.
type ConnectionManager struct {
	connections map[int64]map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	status   StatusProvider
	clock    clockwork.Clock
}

// Connection is one client socket watching one participant.
type Connection struct {
	ID            string
	ParticipantID int64
	Conn          *websocket.Conn

	ConnectedAt time.Time
	done        chan struct{}
	closeOnce   sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	PushInterval    time.Duration `yaml:"push_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		PushInterval:    time.Second,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(status StatusProvider, clock clockwork.Clock, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[int64]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		status: status,
		clock:  clock,
	}
}

// UpgradeConnection upgrades the request and starts pushing status for participantID.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, participantID int64) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Conn:          conn,
		ConnectedAt:   cm.clock.Now(),
		done:          make(chan struct{}),
	}
	cm.register(c)

	go cm.readPump(c)
	go cm.writePump(c)

	log.Info().
		Str("connection_id", c.ID).
		Int64("participant_id", participantID).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.connections[c.ParticipantID] == nil {
		cm.connections[c.ParticipantID] = make(map[*Connection]bool)
	}
	cm.connections[c.ParticipantID][c] = true
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conns, ok := cm.connections[c.ParticipantID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(cm.connections, c.ParticipantID)
		}
	}
}

// Stats reports open connections and watched participants.
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	total := 0
	for _, conns := range cm.connections {
		total += len(conns)
	}
	return map[string]int{
		"total_connections":    total,
		"watched_participants": len(cm.connections),
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// readPump only watches for the client going away and answers pings.
func (cm *ConnectionManager) readPump(c *Connection) {
	defer c.close()

	c.Conn.SetReadLimit(cm.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump pushes a snapshot right away and then every PushInterval until
// the participant reaches a terminal state.
func (cm *ConnectionManager) writePump(c *Connection) {
	push := cm.clock.NewTicker(cm.config.PushInterval)
	ping := cm.clock.NewTicker(cm.config.PingInterval)
	defer func() {
		push.Stop()
		ping.Stop()
		cm.unregister(c)
		c.close()
		log.Info().Str("connection_id", c.ID).Int64("participant_id", c.ParticipantID).Msg("connection closed")
	}()

	if !cm.pushStatus(c) {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case <-push.Chan():
			if !cm.pushStatus(c) {
				return
			}
		case <-ping.Chan():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pushStatus writes one snapshot. It returns false when the stream is over.
func (cm *ConnectionManager) pushStatus(c *Connection) bool {
	ctx, cancel := context.WithTimeout(context.Background(), cm.config.WriteTimeout)
	defer cancel()

	snapshot, err := cm.status.Status(ctx, c.ParticipantID)
	if err != nil {
		log.Error().Err(err).Int64("participant_id", c.ParticipantID).Msg("failed to load status")
		cm.writeClose(c, websocket.CloseInternalServerErr, "status unavailable")
		return false
	}

	_ = c.Conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
	if err := c.Conn.WriteJSON(snapshot); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write status")
		return false
	}

	if snapshot.State.Terminal() {
		cm.writeClose(c, websocket.CloseNormalClosure, string(snapshot.State))
		return false
	}
	return true
}

func (cm *ConnectionManager) writeClose(c *Connection, code int, text string) {
	deadline := time.Now().Add(cm.config.WriteTimeout)
	_ = c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
