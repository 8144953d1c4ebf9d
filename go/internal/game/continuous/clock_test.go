package continuous

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMultiplier_StrictlyIncreasing(t *testing.T) {
	prev := Multiplier(0.07, base, base)
	if prev != 1 {
		t.Fatalf("m(0) = %v, want 1", prev)
	}
	for ms := 16; ms <= 120_000; ms += 16 {
		m := Multiplier(0.07, base, base.Add(time.Duration(ms)*time.Millisecond))
		if m <= prev {
			t.Fatalf("m not strictly increasing at %dms: %v <= %v", ms, m, prev)
		}
		prev = m
	}
}

func TestMultiplier_BeforeStartIsOne(t *testing.T) {
	if m := Multiplier(0.07, base, base.Add(-5*time.Second)); m != 1 {
		t.Errorf("m = %v, want 1", m)
	}
}

func TestCrashTime_InvertsMultiplier(t *testing.T) {
	for _, point := range []float64{1.01, 2, 4.91, 100} {
		d := CrashTime(0.07, point)
		m := Multiplier(0.07, base, base.Add(d))
		if math.Abs(m-point) > 1e-6 {
			t.Errorf("Multiplier(CrashTime(%v)) = %v", point, m)
		}
	}
}

func TestCountdown(t *testing.T) {
	phase := 15000 * time.Millisecond
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 15.0},
		{1500 * time.Millisecond, 13.5},
		{15000 * time.Millisecond, 0.0},
		{20 * time.Second, 0.0},
		{-time.Second, 15.0},
	}
	for _, tt := range tests {
		got := Countdown(phase, base, base.Add(tt.elapsed))
		if got != tt.want {
			t.Errorf("Countdown(+%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestCountdown_NonIncreasing(t *testing.T) {
	prev := math.Inf(1)
	for ms := 0; ms <= 16_000; ms += 7 {
		c := Countdown(15*time.Second, base, base.Add(time.Duration(ms)*time.Millisecond))
		if c > prev || c < 0 {
			t.Fatalf("countdown %v after %v at %dms", c, prev, ms)
		}
		prev = c
	}
}

func crashRound(status models.RoundStatus) models.Round {
	started := base
	return models.Round{
		ID:        uuid.New(),
		Game:      models.GameCrash,
		Status:    status,
		CreatedAt: base.Add(-10 * time.Second),
		StartedAt: &started,
	}
}

func TestFrame_CrashClampsToOutcome(t *testing.T) {
	clock := NewClock(gameconfig.Defaults(models.GameCrash))
	r := crashRound(models.CrashStatusRunning)
	now := base.Add(20 * time.Second) // exp(1.4) ~ 4.05

	if f := clock.Frame(r, now); math.Abs(f.Multiplier-math.Exp(1.4)) > 1e-9 {
		t.Fatalf("unclamped multiplier = %v", f.Multiplier)
	}

	cp := 2.5
	r.CrashPoint = &cp
	if f := clock.Frame(r, now); f.Multiplier != 2.5 {
		t.Errorf("running clamp = %v, want 2.5", f.Multiplier)
	}

	r.Status = models.CrashStatusCrashed
	if f := clock.Frame(r, now.Add(time.Hour)); f.Multiplier != 2.5 {
		t.Errorf("crashed multiplier = %v, want 2.5", f.Multiplier)
	}
}

func TestFrame_WaitingIsInitial(t *testing.T) {
	settings := gameconfig.Defaults(models.GameCrash)
	clock := NewClock(settings)
	r := models.Round{ID: uuid.New(), Game: models.GameCrash, Status: models.CrashStatusWaiting, CreatedAt: base}

	f := clock.Frame(r, base)
	if f.Multiplier != 1 {
		t.Errorf("multiplier = %v, want 1", f.Multiplier)
	}
	if f.Countdown != settings.WaitingDuration.Seconds() {
		t.Errorf("countdown = %v, want %v", f.Countdown, settings.WaitingDuration.Seconds())
	}
}

func TestFrame_RoulettePhases(t *testing.T) {
	clock := NewClock(gameconfig.Defaults(models.GameRoulette))
	spun := base.Add(15 * time.Second)
	r := models.Round{ID: uuid.New(), Game: models.GameRoulette, Status: models.RouletteStatusBetting, CreatedAt: base}

	if f := clock.Frame(r, base); f.Countdown != 15.0 {
		t.Errorf("betting start countdown = %v", f.Countdown)
	}
	if f := clock.Frame(r, base.Add(15*time.Second)); f.Countdown != 0 {
		t.Errorf("betting end countdown = %v", f.Countdown)
	}

	r.Status = models.RouletteStatusSpinning
	r.StartedAt = &spun
	if f := clock.Frame(r, spun.Add(time.Second)); f.Countdown != 5.0 {
		t.Errorf("spinning countdown = %v, want 5", f.Countdown)
	}
	if f := clock.Frame(r, spun); f.Multiplier != 1 {
		t.Errorf("roulette multiplier = %v", f.Multiplier)
	}
}

func TestFrame_SameInputsAgree(t *testing.T) {
	clock := NewClock(gameconfig.Defaults(models.GameCrash))
	r := crashRound(models.CrashStatusRunning)
	now := base.Add(3333 * time.Millisecond)
	if a, b := clock.Frame(r, now), clock.Frame(r.Clone(), now); a != b {
		t.Errorf("frames differ: %+v vs %+v", a, b)
	}
}
