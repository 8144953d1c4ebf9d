package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gateway"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/rpc"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("GATEWAY_PORT", "8081")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	schedulerURL := getEnv("SCHEDULER_URL", "http://localhost:8080")

	cfg, err := gameconfig.Load(getEnv("GAME_CONFIG", "games.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("load game config")
	}
	games, err := cfg.EnabledGames()
	if err != nil {
		log.Fatal().Err(err).Msg("read enabled games")
	}
	settings := make(map[models.Game]gameconfig.Settings, len(games))
	for _, g := range games {
		s, err := cfg.For(g)
		if err != nil {
			log.Fatal().Err(err).Str("game", string(g)).Msg("invalid game settings")
		}
		settings[g] = s
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	clock := clockwork.NewRealClock()
	auth := gateway.NewAuthenticator([]byte(secret), os.Getenv("JWT_ISSUER"), clock)
	backend := rpc.NewClient(&http.Client{Timeout: 10 * time.Second}, schedulerURL)

	feedCfg := gateway.DefaultFeedConsumerConfig()
	feedCfg.URL = natsURL
	service, err := gateway.NewService(gateway.Config{
		Connection: gateway.DefaultConnectionConfig(),
		Feed:       feedCfg,
		Settings:   settings,
	}, auth, backend, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !service.Healthy() {
			http.Error(w, "feed disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("nats_url", natsURL).
			Str("scheduler_url", schedulerURL).
			Int("games", len(settings)).
			Msg("gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()
	service.Stop()

	log.Info().Msg("gateway shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
