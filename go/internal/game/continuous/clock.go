// Package continuous derives the continuously changing display values of a
// round (crash multiplier, phase countdown) from its last authoritative
// timestamps. Every function here is pure: the same round snapshot and the
// same instant always give the same frame.
package continuous

import (
	"math"
	"time"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Frame is the derived view of a round at one instant.
type Frame struct {
	RoundID    string             `json:"round_id"`
	Status     models.RoundStatus `json:"status"`
	Multiplier float64            `json:"multiplier"`
	Countdown  float64            `json:"countdown"`
	At         time.Time          `json:"at"`
}

// Multiplier returns exp(k*t) for t seconds since startedAt. Instants before
// startedAt count as t = 0, so the result is never below 1.
func Multiplier(k float64, startedAt, now time.Time) float64 {
	t := now.Sub(startedAt).Seconds()
	if t < 0 {
		t = 0
	}
	return math.Exp(k * t)
}

// CrashTime returns how long after start the multiplier reaches point.
func CrashTime(k, point float64) time.Duration {
	if point <= 1 {
		return 0
	}
	return time.Duration(math.Log(point) / k * float64(time.Second))
}

// Countdown returns the remaining seconds of a phase, never negative.
func Countdown(phase time.Duration, phaseStart, now time.Time) float64 {
	remaining := phase - now.Sub(phaseStart)
	if remaining < 0 {
		return 0
	}
	if remaining > phase {
		remaining = phase
	}
	return float64(remaining.Milliseconds()) / 1000
}

// Clock computes frames for one game from its settings.
type Clock struct {
	settings gameconfig.Settings
}

// NewClock returns a clock for the given settings.
func NewClock(settings gameconfig.Settings) Clock {
	return Clock{settings: settings}
}

// Initial is the frame shown for a round nobody has observed yet.
func (c Clock) Initial(status models.RoundStatus) Frame {
	return Frame{Status: status, Multiplier: 1, Countdown: c.phaseDuration(status).Seconds()}
}

// Frame derives the display values of round at now.
func (c Clock) Frame(round models.Round, now time.Time) Frame {
	f := Frame{
		RoundID:    round.ID.String(),
		Status:     round.Status,
		Multiplier: 1,
		At:         now,
	}

	if round.Game == models.GameCrash {
		f.Multiplier = c.crashMultiplier(round, now)
	}

	if start, ok := c.phaseStart(round); ok {
		f.Countdown = Countdown(c.phaseDuration(round.Status), start, now)
	}
	return f
}

func (c Clock) crashMultiplier(round models.Round, now time.Time) float64 {
	switch round.Status {
	case models.CrashStatusRunning:
		if round.StartedAt == nil {
			return 1
		}
		m := Multiplier(c.settings.GrowthRate, *round.StartedAt, now)
		// authoritative crash point wins as soon as it is known
		if round.CrashPoint != nil && m > *round.CrashPoint {
			return *round.CrashPoint
		}
		return m
	case models.CrashStatusCrashed:
		if round.CrashPoint != nil {
			return *round.CrashPoint
		}
		if round.StartedAt != nil && round.EndedAt != nil {
			return Multiplier(c.settings.GrowthRate, *round.StartedAt, *round.EndedAt)
		}
		return 1
	default:
		return 1
	}
}

func (c Clock) phaseStart(round models.Round) (time.Time, bool) {
	switch round.Status {
	case models.CrashStatusWaiting, models.RouletteStatusBetting:
		return round.CreatedAt, !round.CreatedAt.IsZero()
	case models.RouletteStatusSpinning:
		if round.StartedAt == nil {
			return time.Time{}, false
		}
		return *round.StartedAt, true
	case models.CrashStatusCrashed, models.RouletteStatusEnded:
		if round.EndedAt == nil {
			return time.Time{}, false
		}
		return *round.EndedAt, true
	default:
		return time.Time{}, false
	}
}

func (c Clock) phaseDuration(status models.RoundStatus) time.Duration {
	switch status {
	case models.CrashStatusWaiting:
		return c.settings.WaitingDuration
	case models.CrashStatusCrashed:
		return c.settings.CrashedHold
	case models.RouletteStatusBetting:
		return c.settings.BettingDuration
	case models.RouletteStatusSpinning:
		return c.settings.SpinningDuration
	case models.RouletteStatusEnded:
		return c.settings.EndedHold
	default:
		return 0
	}
}
