package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/dbconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/rpc"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/scheduler"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	settings, err := loadGameSettings(getEnv("GAME_CONFIG", "games.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load game settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := dbconfig.NewConfigFromEnv().OpenPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	repo := scheduler.NewPostgresRepository(pool)
	clock := clockwork.NewRealClock()
	opts := []scheduler.Option{scheduler.WithClock(clock)}

	// The history cache is optional; History falls back to Postgres.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache, err := scheduler.NewRedisHistory(addr, os.Getenv("REDIS_PASSWORD"), getEnvAsInt("REDIS_DB", 0))
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("history cache disabled")
		} else {
			defer cache.Close()
			opts = append(opts, scheduler.WithHistoryCache(cache))
		}
	}

	engines := make(map[models.Game]rpc.Engine, len(settings))
	var wg sync.WaitGroup
	for game, s := range settings {
		game := game
		sched := scheduler.New(game, s, repo, opts...)
		engines[game] = sched
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				log.Error().Err(err).Str("game", string(game)).Msg("round scheduler failed")
			}
		}()
	}

	server := setupServer(rpc.NewService(engines, clock), func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return pool.Ping(pingCtx) == nil
	})

	go func() {
		log.Info().Str("addr", server.Addr).Int("games", len(engines)).Msg("scheduler starting")
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
	wg.Wait()

	log.Info().Msg("scheduler shutdown complete")
}
