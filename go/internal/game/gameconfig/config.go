package gameconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Settings holds the timing and display constants of one game.
type Settings struct {
	// Crash
	GrowthRate      float64       `mapstructure:"growth_rate"`
	WaitingDuration time.Duration `mapstructure:"waiting_duration"`
	CrashedHold     time.Duration `mapstructure:"crashed_hold"`

	// Roulette
	BettingDuration  time.Duration `mapstructure:"betting_duration"`
	SpinningDuration time.Duration `mapstructure:"spinning_duration"`
	EndedHold        time.Duration `mapstructure:"ended_hold"`

	HistoryLimit  int           `mapstructure:"history_limit"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// Defaults returns the built-in settings for a game.
func Defaults(game models.Game) Settings {
	s := Settings{
		HistoryLimit:  30,
		FrameInterval: 50 * time.Millisecond,
		PollInterval:  time.Second,
	}
	switch game {
	case models.GameCrash:
		s.GrowthRate = 0.07
		s.WaitingDuration = 10 * time.Second
		s.CrashedHold = 3 * time.Second
	case models.GameRoulette:
		s.BettingDuration = 15 * time.Second
		s.SpinningDuration = 6 * time.Second
		s.EndedHold = 4 * time.Second
	}
	return s
}

// Validate checks the settings a game relies on.
func (s Settings) Validate(game models.Game) error {
	switch game {
	case models.GameCrash:
		if s.GrowthRate <= 0 {
			return errors.New("growth_rate must be positive")
		}
		if s.WaitingDuration <= 0 {
			return errors.New("waiting_duration must be positive")
		}
	case models.GameRoulette:
		if s.BettingDuration <= 0 || s.SpinningDuration <= 0 {
			return errors.New("betting_duration and spinning_duration must be positive")
		}
	default:
		return fmt.Errorf("unknown game %q", game)
	}
	if s.HistoryLimit < 20 || s.HistoryLimit > 50 {
		return fmt.Errorf("history_limit %d out of range 20-50", s.HistoryLimit)
	}
	if s.FrameInterval <= 0 || s.PollInterval <= 0 {
		return errors.New("frame_interval and poll_interval must be positive")
	}
	return nil
}

// Config is the games section of the service configuration file.
type Config struct {
	Games struct {
		Enabled  []string                          `yaml:"enabled"`
		Settings map[string]map[string]interface{} `yaml:"settings"`
	} `yaml:"games"`
}

// Load reads a YAML config file. A missing file yields an empty config so
// every game runs on defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// EnabledGames returns the configured games, or both when none are listed.
func (c *Config) EnabledGames() ([]models.Game, error) {
	if len(c.Games.Enabled) == 0 {
		return []models.Game{models.GameCrash, models.GameRoulette}, nil
	}
	games := make([]models.Game, 0, len(c.Games.Enabled))
	for _, name := range c.Games.Enabled {
		g := models.Game(name)
		if !g.Valid() {
			return nil, fmt.Errorf("unknown game %q", name)
		}
		games = append(games, g)
	}
	return games, nil
}

// For returns the defaults for a game overlaid with its configured values.
func (c *Config) For(game models.Game) (Settings, error) {
	s := Defaults(game)
	if raw, ok := c.Games.Settings[string(game)]; ok {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           &s,
		})
		if err != nil {
			return Settings{}, err
		}
		if err := dec.Decode(raw); err != nil {
			return Settings{}, fmt.Errorf("decode %s settings: %w", game, err)
		}
	}
	if err := s.Validate(game); err != nil {
		return Settings{}, fmt.Errorf("invalid %s settings: %w", game, err)
	}
	return s, nil
}
