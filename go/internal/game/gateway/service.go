package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Config holds configuration for the gateway service.
type Config struct {
	Connection ConnectionConfig
	Feed       FeedConsumerConfig
	Settings   map[models.Game]gameconfig.Settings
}

// Service wires the feed consumer, the hub and the websocket handler.
type Service struct {
	manager  *ConnectionManager
	hub      *Hub
	consumer *FeedConsumer
	handler  *WebSocketHandler

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(config Config, auth *Authenticator, backend Backend, clock clockwork.Clock) (*Service, error) {
	hub := NewHub()
	consumer, err := NewFeedConsumer(hub, config.Feed)
	if err != nil {
		return nil, fmt.Errorf("create feed consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := NewConnectionManager(config.Connection)
	return &Service{
		manager:  manager,
		hub:      hub,
		consumer: consumer,
		handler:  NewWebSocketHandler(ctx, manager, hub, auth, backend, config.Settings, clock),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start runs the feed consumer until ctx is done, then stops every session.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")
	err := s.consumer.Start(ctx)
	s.Stop()
	return err
}

func (s *Service) Stop() {
	s.cancel()
	s.manager.CloseAll()
	s.hub.Close()
	if err := s.consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop feed consumer")
	}
	log.Info().Msg("gateway service stopped")
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}

// Healthy reports whether the feed is connected.
func (s *Service) Healthy() bool {
	return s.consumer.Connected()
}
