package models

import (
	"time"

	"github.com/google/uuid"
)

// Game identifies which round-based game a round or bet belongs to.
type Game string

const (
	GameCrash    Game = "crash"
	GameRoulette Game = "roulette"
)

// Valid reports whether g is a known game.
func (g Game) Valid() bool {
	return g == GameCrash || g == GameRoulette
}

// RoundStatus is the authoritative status of a round. Each game has its own
// three statuses and they only move forward within a round.
type RoundStatus string

const (
	CrashStatusWaiting RoundStatus = "waiting"
	CrashStatusRunning RoundStatus = "running"
	CrashStatusCrashed RoundStatus = "crashed"

	RouletteStatusBetting  RoundStatus = "betting"
	RouletteStatusSpinning RoundStatus = "spinning"
	RouletteStatusEnded    RoundStatus = "ended"
)

// Rank orders statuses within a round: open phase 0, live phase 1, terminal 2.
// Unknown statuses rank -1.
func (s RoundStatus) Rank() int {
	switch s {
	case CrashStatusWaiting, RouletteStatusBetting:
		return 0
	case CrashStatusRunning, RouletteStatusSpinning:
		return 1
	case CrashStatusCrashed, RouletteStatusEnded:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status is the settled, pre-reset status.
func (s RoundStatus) Terminal() bool {
	return s.Rank() == 2
}

// OpenStatus returns the status in which bets can be placed.
func OpenStatus(g Game) RoundStatus {
	if g == GameRoulette {
		return RouletteStatusBetting
	}
	return CrashStatusWaiting
}

// Round is one betting cycle. StartedAt holds started_at for crash and
// spun_at for roulette. Exactly one of CrashPoint and WinningNumber is set
// once the round reaches its terminal status. SeedHash is the sha256
// commitment to ServerSeed published when the round is created.
type Round struct {
	ID            uuid.UUID   `json:"id"`
	Game          Game        `json:"game"`
	Status        RoundStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	EndedAt       *time.Time  `json:"ended_at,omitempty"`
	CrashPoint    *float64    `json:"crash_point,omitempty"`
	WinningNumber *int        `json:"winning_number,omitempty"`
	ServerSeed    *string     `json:"server_seed,omitempty"`
	SeedHash      string      `json:"server_seed_hash,omitempty"`
	PublicSeed    string      `json:"public_seed"`
	Nonce         int64       `json:"nonce"`
}

// Settled reports whether the round outcome is known.
func (r *Round) Settled() bool {
	return r.CrashPoint != nil || r.WinningNumber != nil
}

// Seeds returns the fairness material bound to the round. ok is false while
// the server seed is still hidden.
func (r *Round) Seeds() (SeedPair, bool) {
	if r.ServerSeed == nil {
		return SeedPair{}, false
	}
	return SeedPair{ServerSeed: *r.ServerSeed, ClientSeed: r.PublicSeed, Nonce: r.Nonce}, true
}

// Clone returns a deep copy so callers can hold a snapshot without sharing
// pointer fields with the store.
func (r Round) Clone() Round {
	out := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	if r.CrashPoint != nil {
		v := *r.CrashPoint
		out.CrashPoint = &v
	}
	if r.WinningNumber != nil {
		v := *r.WinningNumber
		out.WinningNumber = &v
	}
	if r.ServerSeed != nil {
		v := *r.ServerSeed
		out.ServerSeed = &v
	}
	return out
}

// SeedPair is the provably-fair material for a single round.
type SeedPair struct {
	ServerSeed string `json:"server_seed"`
	ClientSeed string `json:"client_seed"`
	Nonce      int64  `json:"nonce"`
}

// Merge applies a newer observation of the same round. Timestamps and seeds
// take the latest non-nil value, status only moves forward, and the outcome
// and server seed are kept once set.
func (r Round) Merge(next Round) Round {
	out := r.Clone()
	n := next.Clone()
	if n.Status.Rank() > out.Status.Rank() {
		out.Status = n.Status
	}
	if !n.CreatedAt.IsZero() {
		out.CreatedAt = n.CreatedAt
	}
	if n.StartedAt != nil {
		out.StartedAt = n.StartedAt
	}
	if n.EndedAt != nil {
		out.EndedAt = n.EndedAt
	}
	if out.CrashPoint == nil {
		out.CrashPoint = n.CrashPoint
	}
	if out.WinningNumber == nil {
		out.WinningNumber = n.WinningNumber
	}
	if out.ServerSeed == nil {
		out.ServerSeed = n.ServerSeed
	}
	if out.SeedHash == "" {
		out.SeedHash = n.SeedHash
	}
	if n.PublicSeed != "" {
		out.PublicSeed = n.PublicSeed
	}
	if n.Nonce != 0 {
		out.Nonce = n.Nonce
	}
	return out
}
