package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/scheduler"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

type fakeEngine struct {
	round      models.Round
	bets       []models.Bet
	placeErr   error
	placeID    uuid.UUID
	placed     []scheduler.PlaceBetParams
	resolved   models.Bet
	resolveErr error
	history    []models.HistoryItem
	gotLimit   int
	ticks      int
}

func (f *fakeEngine) Tick(ctx context.Context) (models.Round, error) {
	f.ticks++
	return f.round, nil
}

func (f *fakeEngine) PlaceBet(ctx context.Context, p scheduler.PlaceBetParams) (uuid.UUID, error) {
	f.placed = append(f.placed, p)
	return f.placeID, f.placeErr
}

func (f *fakeEngine) ResolveBet(ctx context.Context, p scheduler.CashoutParams) (models.Bet, error) {
	return f.resolved, f.resolveErr
}

func (f *fakeEngine) History(ctx context.Context, limit int) ([]models.HistoryItem, error) {
	f.gotLimit = limit
	return f.history, nil
}

func (f *fakeEngine) Snapshot(ctx context.Context) (models.Round, []models.Bet, error) {
	if f.round.ID == uuid.Nil {
		return models.Round{}, nil, scheduler.ErrNoRound
	}
	return f.round, f.bets, nil
}

func newTestClient(t *testing.T, eng *fakeEngine, clock clockwork.Clock) *Client {
	t.Helper()
	mux := http.NewServeMux()
	NewService(map[models.Game]Engine{models.GameCrash: eng}, clock).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL)
}

func TestPlaceBet(t *testing.T) {
	roundID := uuid.New()
	betID := uuid.New()
	auto := 2.0

	tests := []struct {
		name        string
		err         error
		wantSuccess bool
		wantMessage string
		wantCode    connect.Code
	}{
		{name: "accepted", wantSuccess: true},
		{name: "stored function rejection", err: &scheduler.Rejection{Message: "insufficient balance"}, wantMessage: "insufficient balance"},
		{name: "round closed", err: scheduler.ErrRoundNotOpen, wantMessage: scheduler.ErrRoundNotOpen.Error()},
		{name: "database down", err: errors.New("connection refused"), wantCode: connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{placeID: betID, placeErr: tt.err}
			client := newTestClient(t, eng, clockwork.NewFakeClock())

			res, err := client.PlaceBet(context.Background(), PlaceBetRequest{
				Game:          models.GameCrash,
				RoundID:       roundID,
				UserID:        "alice",
				Amount:        decimal.NewFromInt(10),
				AutoCashoutAt: &auto,
			})
			if tt.wantCode != 0 {
				if connect.CodeOf(err) != tt.wantCode {
					t.Fatalf("code = %v, want %v (err %v)", connect.CodeOf(err), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlaceBet() error = %v", err)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if res.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", res.Message, tt.wantMessage)
			}
			if tt.wantSuccess && (res.BetID == nil || *res.BetID != betID) {
				t.Errorf("BetID = %v, want %v", res.BetID, betID)
			}
			if len(eng.placed) != 1 {
				t.Fatalf("engine saw %d bets, want 1", len(eng.placed))
			}
			p := eng.placed[0]
			if p.RoundID != roundID || p.UserID != "alice" || !p.Amount.Equal(decimal.NewFromInt(10)) {
				t.Errorf("params = %+v", p)
			}
			if p.AutoCashoutAt == nil || *p.AutoCashoutAt != 2.0 {
				t.Errorf("AutoCashoutAt = %v, want 2", p.AutoCashoutAt)
			}
		})
	}
}

func TestUnknownGame(t *testing.T) {
	client := newTestClient(t, &fakeEngine{}, clockwork.NewFakeClock())

	_, err := client.History(context.Background(), HistoryRequest{Game: models.GameRoulette, Limit: 5})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("code = %v, want %v", connect.CodeOf(err), connect.CodeInvalidArgument)
	}
}

func TestResolveBet(t *testing.T) {
	mult := 2.01
	profit := decimal.RequireFromString("10.10")
	bet := models.Bet{ID: uuid.New(), UserID: "alice", Amount: decimal.NewFromInt(10), CashoutMultiplier: &mult, Profit: &profit}

	t.Run("cashed out", func(t *testing.T) {
		client := newTestClient(t, &fakeEngine{resolved: bet}, clockwork.NewFakeClock())
		res, err := client.ResolveBet(context.Background(), ResolveBetRequest{Game: models.GameCrash, BetID: bet.ID, UserID: "alice", Multiplier: 3})
		if err != nil {
			t.Fatalf("ResolveBet() error = %v", err)
		}
		if !res.Success {
			t.Fatalf("Success = false, message %q", res.Message)
		}
		if res.Multiplier == nil || *res.Multiplier != 2.01 {
			t.Errorf("Multiplier = %v, want 2.01", res.Multiplier)
		}
		if res.Profit == nil || !res.Profit.Equal(profit) {
			t.Errorf("Profit = %v, want %v", res.Profit, profit)
		}
	})

	t.Run("too late", func(t *testing.T) {
		client := newTestClient(t, &fakeEngine{resolveErr: scheduler.ErrRoundNotRunning}, clockwork.NewFakeClock())
		res, err := client.ResolveBet(context.Background(), ResolveBetRequest{Game: models.GameCrash, BetID: bet.ID, UserID: "alice", Multiplier: 3})
		if err != nil {
			t.Fatalf("ResolveBet() error = %v", err)
		}
		if res.Success || res.Message != scheduler.ErrRoundNotRunning.Error() {
			t.Errorf("got %+v, want rejection", res)
		}
	})
}

func TestAdvanceHistorySnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	point := 1.5
	eng := &fakeEngine{
		round:   models.Round{ID: uuid.New(), Game: models.GameCrash, Status: models.CrashStatusRunning, Nonce: 7},
		history: []models.HistoryItem{{RoundID: uuid.New(), Game: models.GameCrash, CrashPoint: &point}},
	}
	client := newTestClient(t, eng, clock)
	ctx := context.Background()

	adv, err := client.AdvanceRoundTick(ctx, AdvanceRoundTickRequest{Game: models.GameCrash})
	if err != nil {
		t.Fatalf("AdvanceRoundTick() error = %v", err)
	}
	if adv.Round.ID != eng.round.ID || eng.ticks != 1 {
		t.Errorf("round = %v ticks = %d", adv.Round.ID, eng.ticks)
	}

	hist, err := client.History(ctx, HistoryRequest{Game: models.GameCrash, Limit: 12})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if eng.gotLimit != 12 || len(hist.Items) != 1 {
		t.Errorf("limit = %d items = %d", eng.gotLimit, len(hist.Items))
	}

	snap, err := client.Snapshot(ctx, SnapshotRequest{Game: models.GameCrash})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Round.Nonce != 7 {
		t.Errorf("Nonce = %d, want 7", snap.Round.Nonce)
	}
	if !snap.ServerTime.Equal(clock.Now()) {
		t.Errorf("ServerTime = %v, want %v", snap.ServerTime, clock.Now())
	}
}

func TestSnapshotNoRound(t *testing.T) {
	client := newTestClient(t, &fakeEngine{}, clockwork.NewFakeClock())
	_, err := client.Snapshot(context.Background(), SnapshotRequest{Game: models.GameCrash})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("code = %v, want %v", connect.CodeOf(err), connect.CodeNotFound)
	}
}
