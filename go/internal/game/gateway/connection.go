package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ConnectionManager upgrades and tracks websocket connections per game.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[models.Game]map[*Connection]struct{}
	upgrader    websocket.Upgrader
	config      ConnectionConfig
}

// Connection is one websocket client. Its outbound channel is never closed,
// so sessions can keep sending after the socket went away.
type Connection struct {
	ID          string
	UserID      string
	Game        models.Game
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan Message
	manager *ConnectionManager
	once    sync.Once
	done    chan struct{}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[models.Game]map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Upgrade upgrades the request and registers the connection. On failure the
// upgrader has already replied to the client.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, userID string, game models.Game) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Game:        game,
		ConnectedAt: time.Now(),
		conn:        ws,
		send:        make(chan Message, cm.config.SendBuffer),
		manager:     cm,
		done:        make(chan struct{}),
	}
	cm.register(c)

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", userID).
		Str("game", string(game)).
		Msg("websocket connection established")
	return c, nil
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.connections[c.Game] == nil {
		cm.connections[c.Game] = make(map[*Connection]struct{})
	}
	cm.connections[c.Game][c] = struct{}{}
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	conns, ok := cm.connections[c.Game]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(cm.connections, c.Game)
	}
}

// Stats returns connection counts per game.
func (cm *ConnectionManager) Stats() (int, map[models.Game]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	total := 0
	perGame := make(map[models.Game]int, len(cm.connections))
	for game, conns := range cm.connections {
		perGame[game] = len(conns)
		total += len(conns)
	}
	return total, perGame
}

// CloseAll closes every connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}

// Outbound is where a session pushes messages for this client.
func (c *Connection) Outbound() chan<- Message {
	return c.send
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Serve starts the read and write pumps. Decoded client commands go to
// onCommand; it must not block.
func (c *Connection) Serve(onCommand func(Command) bool) {
	go c.writePump()
	go c.readPump(onCommand)
}

func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
		c.manager.unregister(c)
		_ = c.conn.Close()
		log.Info().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Str("game", string(c.Game)).
			Msg("connection closed")
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump(onCommand func(Command) bool) {
	defer c.Close()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(Message{Type: MessageError, Error: "malformed command"})
			continue
		}
		if !onCommand(cmd) {
			c.reply(Message{Type: MessageError, RequestID: cmd.RequestID, Error: "too many commands, slow down"})
		}
	}
}

func (c *Connection) reply(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}
