package events

import (
	"testing"
	"time"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

func TestDecodeRound_CrashRow(t *testing.T) {
	raw := []byte(`{
		"id": "5b0f2a3e-7d7a-4a8e-9c35-1f0d2a6b9e01",
		"status": "crashed",
		"created_at": "2026-03-01T12:00:00Z",
		"started_at": "2026-03-01T12:00:10Z",
		"ended_at": "2026-03-01T12:00:32.7Z",
		"outcome": 4.91,
		"server_seed": "abc123",
		"public_seed": "xyz",
		"nonce": 1
	}`)
	r, err := DecodeRound(models.GameCrash, raw)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.CrashStatusCrashed || r.CrashPoint == nil || *r.CrashPoint != 4.91 {
		t.Errorf("decoded %+v", r)
	}
	if r.StartedAt == nil || !r.StartedAt.Equal(time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)) {
		t.Errorf("started_at = %v", r.StartedAt)
	}
	if r.Game != models.GameCrash || r.ServerSeed == nil || r.Nonce != 1 {
		t.Errorf("fairness fields lost: %+v", r)
	}
}

func TestDecodeRound_RouletteRowUsesSpunAt(t *testing.T) {
	raw := []byte(`{"id":"5b0f2a3e-7d7a-4a8e-9c35-1f0d2a6b9e02","status":"spinning",
		"created_at":"2026-03-01T12:00:00Z","spun_at":"2026-03-01T12:00:15Z",
		"ended_at":null,"winning_number":null,"server_seed":null,"public_seed":"p","nonce":7}`)
	r, err := DecodeRound(models.GameRoulette, raw)
	if err != nil {
		t.Fatal(err)
	}
	if r.StartedAt == nil || r.Settled() || r.ServerSeed != nil {
		t.Errorf("decoded %+v", r)
	}
}

func TestDecodeBet(t *testing.T) {
	crash := []byte(`{"id":"5b0f2a3e-7d7a-4a8e-9c35-1f0d2a6b9e03","round_id":"5b0f2a3e-7d7a-4a8e-9c35-1f0d2a6b9e01",
		"user_id":"u1","bet_amount":12.5,"cashout_multiplier":null,"profit":null,"auto_cashout_at":2}`)
	b, err := DecodeBet(models.GameCrash, crash)
	if err != nil {
		t.Fatal(err)
	}
	if b.Resolved() || b.AutoCashoutAt == nil || *b.AutoCashoutAt != 2 || b.Amount.String() != "12.5" {
		t.Errorf("crash bet %+v", b)
	}

	roulette := []byte(`{"id":"5b0f2a3e-7d7a-4a8e-9c35-1f0d2a6b9e04","round_id":"5b0f2a3e-7d7a-4a8e-9c35-1f0d2a6b9e02",
		"user_id":"u2","bet_amount":"3","bet_color":"green","profit":"39"}`)
	b, err = DecodeBet(models.GameRoulette, roulette)
	if err != nil {
		t.Fatal(err)
	}
	if b.Color == nil || *b.Color != models.ColorGreen || !b.Resolved() {
		t.Errorf("roulette bet %+v", b)
	}
}

func TestRoundChange_RoundTripsThroughWireShape(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	n := 4
	in := models.Round{Game: models.GameRoulette, Status: models.RouletteStatusEnded,
		CreatedAt: started.Add(-15 * time.Second), StartedAt: &started, EndedAt: &started,
		WinningNumber: &n, PublicSeed: "p", Nonce: 9}

	ch, err := NewRoundChange(OpUpdate, in, started)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Validate(); err != nil {
		t.Fatal(err)
	}
	if ch.Subject() != "casino.roulette.rounds.update" {
		t.Errorf("subject = %s", ch.Subject())
	}
	out, err := DecodeRound(ch.Game, ch.Record)
	if err != nil {
		t.Fatal(err)
	}
	if out.WinningNumber == nil || *out.WinningNumber != 4 || !out.StartedAt.Equal(started) {
		t.Errorf("round trip lost fields: %+v", out)
	}
}

func TestChangeValidate(t *testing.T) {
	tests := []struct {
		name string
		c    Change
	}{
		{"unknown game", Change{Game: "dice", Table: TableRounds, Op: OpInsert, Record: []byte("{}")}},
		{"delete", Change{Game: models.GameCrash, Table: TableRounds, Op: "DELETE", Record: []byte("{}")}},
		{"no record", Change{Game: models.GameCrash, Table: TableBets, Op: OpInsert}},
	}
	for _, tt := range tests {
		if err := tt.c.Validate(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
