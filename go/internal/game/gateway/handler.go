package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// subscriptionBuffer is the number of feed changes a session may lag behind.
const subscriptionBuffer = 256

// WebSocketHandler accepts game connections and starts one session each.
type WebSocketHandler struct {
	ctx      context.Context
	manager  *ConnectionManager
	hub      *Hub
	auth     *Authenticator
	backend  Backend
	settings map[models.Game]gameconfig.Settings
	clock    clockwork.Clock
}

func NewWebSocketHandler(ctx context.Context, manager *ConnectionManager, hub *Hub, auth *Authenticator, backend Backend, settings map[models.Game]gameconfig.Settings, clock clockwork.Clock) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:      ctx,
		manager:  manager,
		hub:      hub,
		auth:     auth,
		backend:  backend,
		settings: settings,
		clock:    clock,
	}
}

// HandleGame serves /ws/game?game=<game>.
func (h *WebSocketHandler) HandleGame(w http.ResponseWriter, r *http.Request) {
	game := models.Game(r.URL.Query().Get("game"))
	settings, ok := h.settings[game]
	if !ok {
		http.Error(w, "unknown or disabled game", http.StatusBadRequest)
		return
	}

	userID, err := h.auth.Authenticate(r)
	if err != nil {
		log.Debug().Err(err).Msg("rejected websocket client")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.manager.Upgrade(w, r, userID, game)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	session, err := NewSession(SessionConfig{
		Game:     game,
		UserID:   userID,
		Settings: settings,
		Clock:    h.clock,
		Backend:  h.backend,
	}, conn.Outbound())
	if err != nil {
		log.Error().Err(err).Msg("create session")
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	sub := h.hub.Subscribe(game, subscriptionBuffer)
	conn.Serve(session.Submit)

	go func() {
		<-conn.Done()
		cancel()
	}()
	go func() {
		defer conn.Close()
		defer h.hub.Unsubscribe(sub)
		if err := session.Run(ctx, sub); err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID).Msg("session ended")
		}
	}()
}

// HandleStats reports connection counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, perGame := h.manager.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"connections":       perGame,
		"subscribers":       h.hub.Counts(),
	})
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/game", h.HandleGame)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
