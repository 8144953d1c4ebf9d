package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadGameSettings reads the game config and resolves the settings of every
// enabled game.
func loadGameSettings(path string) (map[models.Game]gameconfig.Settings, error) {
	cfg, err := gameconfig.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load game config: %w", err)
	}
	games, err := cfg.EnabledGames()
	if err != nil {
		return nil, err
	}

	settings := make(map[models.Game]gameconfig.Settings, len(games))
	for _, g := range games {
		s, err := cfg.For(g)
		if err != nil {
			return nil, fmt.Errorf("invalid settings for %s: %w", g, err)
		}
		log.Info().
			Str("game", string(g)).
			Dur("open", s.WaitingDuration+s.BettingDuration).
			Dur("poll", s.PollInterval).
			Msg("game enabled")
		settings[g] = s
	}
	return settings, nil
}
