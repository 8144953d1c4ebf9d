package roundstate

import (
	"time"

	"github.com/google/uuid"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/continuous"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/ledger"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// State is the display state of a game as seen by one client.
type State string

const (
	StateConnecting State = "connecting"

	// Crash
	StateWaiting   State = "waiting"
	StateRunning   State = "running"
	StateCrashed   State = "crashed"
	StateResetting State = "resetting"

	// Roulette
	StateBetting  State = "betting"
	StateSpinning State = "spinning"
	StateEnded    State = "ended"
)

// stateOf maps an authoritative round status to its display state.
func stateOf(status models.RoundStatus) State {
	switch status {
	case models.CrashStatusWaiting:
		return StateWaiting
	case models.CrashStatusRunning:
		return StateRunning
	case models.CrashStatusCrashed:
		return StateCrashed
	case models.RouletteStatusBetting:
		return StateBetting
	case models.RouletteStatusSpinning:
		return StateSpinning
	case models.RouletteStatusEnded:
		return StateEnded
	default:
		return StateConnecting
	}
}

// Transition is delivered to observers whenever the display state changes.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	RoundID uuid.UUID `json:"round_id"`
	At      time.Time `json:"at"`
}

// Snapshot is a consistent read of the store: the round, the frame derived
// from it and the bets of that same round.
type Snapshot struct {
	State     State                `json:"state"`
	Round     *models.Round        `json:"round,omitempty"`
	Frame     continuous.Frame     `json:"frame"`
	Bets      []models.Bet         `json:"bets"`
	Mine      []models.Bet         `json:"mine"`
	Aggregate ledger.Aggregate     `json:"aggregate"`
	History   []models.HistoryItem `json:"history"`
}
