package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/events"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/roundstate"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/rpc"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

type fakeBackend struct {
	mu          sync.Mutex
	placed      []rpc.PlaceBetRequest
	placeResp   *rpc.PlaceBetResponse
	resolveResp *rpc.ResolveBetResponse
	snapshotErr error
	history     []models.HistoryItem

	resolveCalls atomic.Int32
	resolving    chan struct{}
	release      chan struct{}
}

func (f *fakeBackend) PlaceBet(ctx context.Context, req rpc.PlaceBetRequest) (*rpc.PlaceBetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return f.placeResp, nil
}

func (f *fakeBackend) ResolveBet(ctx context.Context, req rpc.ResolveBetRequest) (*rpc.ResolveBetResponse, error) {
	f.resolveCalls.Add(1)
	if f.resolving != nil {
		f.resolving <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.resolveResp, nil
}

func (f *fakeBackend) AdvanceRoundTick(ctx context.Context, req rpc.AdvanceRoundTickRequest) (*rpc.AdvanceRoundTickResponse, error) {
	return &rpc.AdvanceRoundTickResponse{}, nil
}

func (f *fakeBackend) History(ctx context.Context, req rpc.HistoryRequest) (*rpc.HistoryResponse, error) {
	return &rpc.HistoryResponse{Items: f.history}, nil
}

func (f *fakeBackend) Snapshot(ctx context.Context, req rpc.SnapshotRequest) (*rpc.SnapshotResponse, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return nil, connect.NewError(connect.CodeNotFound, errors.New("no round yet"))
}

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, game models.Game, backend *fakeBackend) (*Session, *clockwork.FakeClock, chan Message) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	out := make(chan Message, 256)
	s, err := NewSession(SessionConfig{
		Game:     game,
		UserID:   "alice",
		Settings: gameconfig.Defaults(game),
		Clock:    clock,
		Backend:  backend,
	}, out)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() {
		if s.monitor != nil {
			_ = s.monitor.Close(time.Second)
		}
	})
	return s, clock, out
}

// runPosted runs the next result posted back to the loop.
func runPosted(t *testing.T, s *Session) {
	t.Helper()
	select {
	case fn := <-s.posted:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("nothing posted to the session loop")
	}
}

// next returns the next message of type typ, skipping views.
func next(t *testing.T, out chan Message, typ MessageType) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-out:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message", typ)
		}
	}
}

func runningCrashRound(now time.Time) models.Round {
	created := now.Add(-21 * time.Second)
	started := now.Add(-11 * time.Second)
	return models.Round{
		ID:         uuid.New(),
		Game:       models.GameCrash,
		Status:     models.CrashStatusRunning,
		CreatedAt:  created,
		StartedAt:  &started,
		PublicSeed: "xyz",
		Nonce:      1,
	}
}

func TestAutoCashoutResolvesOnce(t *testing.T) {
	backend := &fakeBackend{
		resolving: make(chan struct{}, 4),
		release:   make(chan struct{}),
	}
	s, clock, out := newTestSession(t, models.GameCrash, backend)

	round := runningCrashRound(clock.Now())
	target := 2.0
	bet := models.Bet{ID: uuid.New(), RoundID: round.ID, UserID: "alice", Amount: decimal.NewFromInt(10), AutoCashoutAt: &target}
	mult := 2.0
	profit := decimal.NewFromInt(10)
	resolved := bet
	resolved.CashoutMultiplier = &mult
	resolved.Profit = &profit
	backend.resolveResp = &rpc.ResolveBetResponse{Success: true, Multiplier: &mult, Profit: &profit, Bet: &resolved}

	s.reconcile(&rpc.SnapshotResponse{Round: round, Bets: []models.Bet{bet}}, nil)

	// Three frames at or above the target before the first resolve returns.
	for i := 0; i < 3; i++ {
		s.frame()
		clock.Advance(50 * time.Millisecond)
	}
	select {
	case <-backend.resolving:
	case <-time.After(2 * time.Second):
		t.Fatal("resolve was never sent")
	}
	if got := backend.resolveCalls.Load(); got != 1 {
		t.Fatalf("resolve calls = %d, want 1", got)
	}

	close(backend.release)
	deadline := time.Now().Add(2 * time.Second)
	for s.monitor.Pending(bet.ID) {
		if time.Now().After(deadline) {
			t.Fatal("bet still pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.frame()
	if got := backend.resolveCalls.Load(); got != 1 {
		t.Errorf("resolve calls after resolution = %d, want 1", got)
	}
	view := next(t, out, MessageView).View
	if view.State != roundstate.StateRunning || view.Frame.Multiplier < 2.0 {
		t.Errorf("view state=%s multiplier=%.2f", view.State, view.Frame.Multiplier)
	}
	mine := s.store.Snapshot(clock.Now()).Mine
	if len(mine) != 1 || !mine[0].Resolved() {
		t.Errorf("mine = %+v, want one resolved bet", mine)
	}
}

func TestAutoCashoutRejectionReportedOnce(t *testing.T) {
	backend := &fakeBackend{resolveResp: &rpc.ResolveBetResponse{Success: false, Message: "bet already resolved"}}
	s, clock, out := newTestSession(t, models.GameCrash, backend)

	round := runningCrashRound(clock.Now())
	target := 2.0
	bet := models.Bet{ID: uuid.New(), RoundID: round.ID, UserID: "alice", Amount: decimal.NewFromInt(10), AutoCashoutAt: &target}
	s.reconcile(&rpc.SnapshotResponse{Round: round, Bets: []models.Bet{bet}}, nil)

	s.frame()
	runPosted(t, s)
	for i := 0; i < 20; i++ {
		clock.Advance(50 * time.Millisecond)
		s.frame()
	}
	if got := backend.resolveCalls.Load(); got != 1 {
		t.Errorf("resolve calls = %d, want 1", got)
	}

	errs := 0
	for len(out) > 0 {
		msg := <-out
		if msg.Type == MessageError {
			errs++
			if msg.Error != "bet already resolved" {
				t.Errorf("error = %q", msg.Error)
			}
		}
	}
	if errs != 1 {
		t.Errorf("client errors = %d, want 1", errs)
	}
}

func TestPlaceBet(t *testing.T) {
	betID := uuid.New()
	backend := &fakeBackend{placeResp: &rpc.PlaceBetResponse{Success: true, BetID: &betID}}
	s, clock, _ := newTestSession(t, models.GameCrash, backend)

	round := models.Round{ID: uuid.New(), Game: models.GameCrash, Status: models.CrashStatusWaiting, CreatedAt: clock.Now()}
	s.reconcile(&rpc.SnapshotResponse{Round: round}, nil)

	auto := 1.5
	s.handle(context.Background(), Command{Type: CommandPlaceBet, RequestID: "r1", Amount: decimal.NewFromInt(5), AutoCashoutAt: &auto})
	runPosted(t, s)

	if len(backend.placed) != 1 {
		t.Fatalf("placed %d bets, want 1", len(backend.placed))
	}
	req := backend.placed[0]
	if req.RoundID != round.ID || req.UserID != "alice" || req.Game != models.GameCrash {
		t.Errorf("request = %+v", req)
	}
	mine := s.store.Snapshot(clock.Now()).Mine
	if len(mine) != 1 || mine[0].ID != betID {
		t.Errorf("mine = %+v, want the placed bet", mine)
	}
}

func TestPlaceBetRejected(t *testing.T) {
	backend := &fakeBackend{placeResp: &rpc.PlaceBetResponse{Success: false, Message: "insufficient balance"}}
	s, clock, out := newTestSession(t, models.GameCrash, backend)
	s.reconcile(&rpc.SnapshotResponse{Round: models.Round{ID: uuid.New(), Status: models.CrashStatusWaiting, CreatedAt: clock.Now()}}, nil)

	s.handle(context.Background(), Command{Type: CommandPlaceBet, RequestID: "r2", Amount: decimal.NewFromInt(5)})
	runPosted(t, s)

	msg := next(t, out, MessageError)
	if msg.RequestID != "r2" || msg.Error != "insufficient balance" {
		t.Errorf("error = %+v", msg)
	}
	if mine := s.store.Snapshot(clock.Now()).Mine; len(mine) != 0 {
		t.Errorf("rejected bet shown: %+v", mine)
	}
}

func TestCommandValidation(t *testing.T) {
	one := 1.0
	red := models.ColorRed
	bogus := models.RouletteColor("blue")
	betID := uuid.New()

	tests := []struct {
		name string
		game models.Game
		cmd  Command
	}{
		{name: "zero amount", game: models.GameCrash, cmd: Command{Type: CommandPlaceBet}},
		{name: "auto cashout at 1.00", game: models.GameCrash, cmd: Command{Type: CommandPlaceBet, Amount: decimal.NewFromInt(1), AutoCashoutAt: &one}},
		{name: "roulette without color", game: models.GameRoulette, cmd: Command{Type: CommandPlaceBet, Amount: decimal.NewFromInt(1)}},
		{name: "roulette bad color", game: models.GameRoulette, cmd: Command{Type: CommandPlaceBet, Amount: decimal.NewFromInt(1), Color: &bogus}},
		{name: "no round yet", game: models.GameRoulette, cmd: Command{Type: CommandPlaceBet, Amount: decimal.NewFromInt(1), Color: &red}},
		{name: "roulette cashout", game: models.GameRoulette, cmd: Command{Type: CommandCashout, BetID: &betID}},
		{name: "cashout without bet", game: models.GameCrash, cmd: Command{Type: CommandCashout}},
		{name: "cashout unknown bet", game: models.GameCrash, cmd: Command{Type: CommandCashout, BetID: &betID}},
		{name: "unknown command", game: models.GameCrash, cmd: Command{Type: "dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			s, _, out := newTestSession(t, tt.game, backend)
			tt.cmd.RequestID = "req"

			s.handle(context.Background(), tt.cmd)

			msg := next(t, out, MessageError)
			if msg.RequestID != "req" || msg.Error == "" {
				t.Errorf("error = %+v", msg)
			}
			if len(backend.placed) != 0 {
				t.Errorf("invalid command reached the backend")
			}
		})
	}
}

func TestManualCashoutPending(t *testing.T) {
	backend := &fakeBackend{resolving: make(chan struct{}, 4), release: make(chan struct{})}
	s, clock, out := newTestSession(t, models.GameCrash, backend)
	defer close(backend.release)

	round := runningCrashRound(clock.Now())
	bet := models.Bet{ID: uuid.New(), RoundID: round.ID, UserID: "alice", Amount: decimal.NewFromInt(10)}
	s.reconcile(&rpc.SnapshotResponse{Round: round, Bets: []models.Bet{bet}}, nil)

	s.handle(context.Background(), Command{Type: CommandCashout, BetID: &bet.ID})
	<-backend.resolving
	s.handle(context.Background(), Command{Type: CommandCashout, RequestID: "again", BetID: &bet.ID})

	msg := next(t, out, MessageError)
	if msg.RequestID != "again" {
		t.Errorf("error = %+v, want the duplicate cashout rejected", msg)
	}
	if got := backend.resolveCalls.Load(); got != 1 {
		t.Errorf("resolve calls = %d, want 1", got)
	}
}

func TestVerify(t *testing.T) {
	seed := "abc123"
	settled := func(point float64) models.Round {
		now := testStart
		started := now.Add(-20 * time.Second)
		ended := now.Add(-time.Second)
		return models.Round{
			ID:         uuid.New(),
			Game:       models.GameCrash,
			Status:     models.CrashStatusCrashed,
			CreatedAt:  now.Add(-30 * time.Second),
			StartedAt:  &started,
			EndedAt:    &ended,
			CrashPoint: &point,
			ServerSeed: &seed,
			PublicSeed: "xyz",
			Nonce:      1,
		}
	}

	tests := []struct {
		name   string
		point  float64
		wantOK bool
	}{
		{name: "published outcome", point: 4.91, wantOK: true},
		{name: "tampered outcome", point: 5.00, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, out := newTestSession(t, models.GameCrash, &fakeBackend{})
			round := settled(tt.point)
			s.reconcile(&rpc.SnapshotResponse{Round: round}, nil)

			s.handle(context.Background(), Command{Type: CommandVerify, RequestID: "v"})

			v := next(t, out, MessageVerification).Verification
			if v.RoundID != round.ID {
				t.Errorf("RoundID = %s, want %s", v.RoundID, round.ID)
			}
			if v.OK != tt.wantOK || v.Computed != "4.91" {
				t.Errorf("verification = %+v, want ok=%v computed 4.91", v.Result, tt.wantOK)
			}
		})
	}
}

func TestVerifyFromHistory(t *testing.T) {
	s, _, out := newTestSession(t, models.GameRoulette, &fakeBackend{})
	id := uuid.New()
	three := 3
	s.store.ReplaceHistory([]models.HistoryItem{{RoundID: id, Game: models.GameRoulette, WinningNumber: &three}})

	nonce := int64(1)
	s.handle(context.Background(), Command{Type: CommandVerify, RoundID: &id, ServerSeed: "abc123", PublicSeed: "xyz", Nonce: &nonce})
	v := next(t, out, MessageVerification).Verification
	if !v.OK || v.Computed != "3" {
		t.Errorf("verification = %+v, want ok with 3", v.Result)
	}

	missing := uuid.New()
	s.handle(context.Background(), Command{Type: CommandVerify, RoundID: &missing, ServerSeed: "abc123"})
	if msg := next(t, out, MessageError); msg.Error != "round not found" {
		t.Errorf("error = %q", msg.Error)
	}

	// Without a revealed seed there is nothing to check.
	s.handle(context.Background(), Command{Type: CommandVerify, RoundID: &id})
	next(t, out, MessageError)
}

func TestPollFailureShowsConnecting(t *testing.T) {
	s, clock, _ := newTestSession(t, models.GameCrash, &fakeBackend{})
	round := runningCrashRound(clock.Now())

	s.reconcile(&rpc.SnapshotResponse{Round: round}, nil)
	if got := s.store.State(); got != roundstate.StateRunning {
		t.Fatalf("state = %s, want running", got)
	}

	s.reconcile(nil, connect.NewError(connect.CodeUnavailable, errors.New("dial tcp: refused")))
	if got := s.store.State(); got != roundstate.StateConnecting {
		t.Errorf("state after failed poll = %s, want connecting", got)
	}

	s.reconcile(&rpc.SnapshotResponse{Round: round}, nil)
	if got := s.store.State(); got != roundstate.StateRunning {
		t.Errorf("state after recovery = %s, want running", got)
	}
}

func TestRunAppliesFeed(t *testing.T) {
	backend := &fakeBackend{}
	s, clock, _ := newTestSession(t, models.GameCrash, backend)
	hub := NewHub()
	sub := hub.Subscribe(models.GameCrash, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, sub) }()

	round := models.Round{ID: uuid.New(), Game: models.GameCrash, Status: models.CrashStatusWaiting, CreatedAt: clock.Now()}
	ch, err := events.NewRoundChange(events.OpInsert, round, clock.Now())
	if err != nil {
		t.Fatalf("NewRoundChange() error = %v", err)
	}
	hub.Publish(ch)

	deadline := time.Now().Add(2 * time.Second)
	for s.store.State() != roundstate.StateWaiting {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want waiting", s.store.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.SetLink(false)
	deadline = time.Now().Add(2 * time.Second)
	for s.store.State() != roundstate.StateConnecting {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s after link loss, want connecting", s.store.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if s.Submit(Command{Type: CommandVerify}) {
		t.Error("Submit() after Run returned should fail")
	}
}
