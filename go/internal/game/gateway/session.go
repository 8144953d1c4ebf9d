package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/autocashout"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/fairness"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/roundstate"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/rpc"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

const (
	commandBuffer = 16
	postedBuffer  = 64
	rpcTimeout    = 5 * time.Second
)

type SessionConfig struct {
	Game     models.Game
	UserID   string
	Settings gameconfig.Settings
	Clock    clockwork.Clock
	Backend  Backend

	CashoutPoolSize int
	ResolveTimeout  time.Duration
}

// Session is the synchronization loop of one client. Feed changes, poll
// results, frames and client commands are all handled on the goroutine
// running Run; RPCs run elsewhere and post their results back.
type Session struct {
	game     models.Game
	userID   string
	settings gameconfig.Settings
	clock    clockwork.Clock
	backend  Backend
	store    *roundstate.Store
	monitor  *autocashout.Monitor
	out      chan<- Message

	commands chan Command
	posted   chan func()
	done     chan struct{}

	polling bool
}

// NewSession creates a session that pushes its messages to out. Sends to out
// never block; a full buffer drops the message.
func NewSession(cfg SessionConfig, out chan<- Message) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	s := &Session{
		game:     cfg.Game,
		userID:   cfg.UserID,
		settings: cfg.Settings,
		clock:    cfg.Clock,
		backend:  cfg.Backend,
		store:    roundstate.New(cfg.Game, cfg.UserID, cfg.Settings, cfg.Clock),
		out:      out,
		commands: make(chan Command, commandBuffer),
		posted:   make(chan func(), postedBuffer),
		done:     make(chan struct{}),
	}

	if cfg.Game == models.GameCrash {
		m, err := autocashout.New(backendResolver{backend: cfg.Backend, game: cfg.Game, userID: cfg.UserID}, autocashout.Options{
			PoolSize: cfg.CashoutPoolSize,
			Timeout:  cfg.ResolveTimeout,
			OnResolved: func(b models.Bet) {
				s.store.ApplyBet(b)
			},
			OnError: func(b models.Bet, err error) {
				log.Warn().Err(err).Str("bet_id", b.ID.String()).Str("user_id", cfg.UserID).Msg("cashout failed")
				s.post(func() { s.emitError("", userMessage(err)) })
			},
		})
		if err != nil {
			return nil, err
		}
		s.monitor = m
	}

	s.store.OnTransition(func(t roundstate.Transition) {
		log.Debug().
			Str("game", string(s.game)).
			Str("user_id", s.userID).
			Str("round_id", t.RoundID.String()).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("state transition")
	})
	return s, nil
}

// Submit queues a client command. It reports false when the session is
// saturated or gone.
func (s *Session) Submit(cmd Command) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.commands <- cmd:
		return true
	default:
		return false
	}
}

// Run drives the session until ctx is done. A closed subscription shows the
// connecting state; polling keeps the view alive.
func (s *Session) Run(ctx context.Context, sub *Subscription) error {
	defer s.close()

	frameTicker := s.clock.NewTicker(s.settings.FrameInterval)
	pollTicker := s.clock.NewTicker(s.settings.PollInterval)
	defer frameTicker.Stop()
	defer pollTicker.Stop()

	s.poll(ctx)
	s.loadHistory(ctx)

	changes, links := sub.Changes, sub.Link
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				s.store.MarkDisconnected()
				continue
			}
			if err := s.store.Apply(ch); err != nil {
				log.Warn().Err(err).Str("event_id", ch.EventID).Msg("dropping feed change")
			}
		case up := <-links:
			if up {
				s.poll(ctx)
				s.loadHistory(ctx)
			} else {
				s.store.MarkDisconnected()
			}
		case fn := <-s.posted:
			fn()
		case cmd := <-s.commands:
			s.handle(ctx, cmd)
		case <-pollTicker.Chan():
			s.poll(ctx)
		case <-frameTicker.Chan():
			s.frame()
		}
	}
}

func (s *Session) close() {
	close(s.done)
	if s.monitor != nil {
		if err := s.monitor.Close(s.settings.PollInterval); err != nil {
			log.Debug().Err(err).Msg("cashout pool did not drain")
		}
	}
}

// post hands fn to the loop. It is dropped once the session has ended. It
// never blocks, since the loop itself may be the caller.
func (s *Session) post(fn func()) {
	select {
	case s.posted <- fn:
	default:
		go func() {
			select {
			case s.posted <- fn:
			case <-s.done:
			}
		}()
	}
}

func (s *Session) emit(msg Message) {
	select {
	case s.out <- msg:
	default:
		if msg.Type != MessageView {
			log.Warn().Str("type", string(msg.Type)).Str("user_id", s.userID).Msg("client buffer full, dropping message")
		}
	}
}

func (s *Session) emitError(requestID, text string) {
	s.emit(Message{Type: MessageError, RequestID: requestID, Error: text})
}

// poll nudges the scheduler and reconciles with its snapshot. Only one poll
// is in flight at a time.
func (s *Session) poll(ctx context.Context) {
	if s.polling {
		return
	}
	s.polling = true
	go func() {
		ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		if _, err := s.backend.AdvanceRoundTick(ctx, rpc.AdvanceRoundTickRequest{Game: s.game}); err != nil {
			log.Debug().Err(err).Str("game", string(s.game)).Msg("advance tick failed")
		}
		snap, err := s.backend.Snapshot(ctx, rpc.SnapshotRequest{Game: s.game})
		s.post(func() {
			s.polling = false
			s.reconcile(snap, err)
		})
	}()
}

func (s *Session) reconcile(snap *rpc.SnapshotResponse, err error) {
	if connect.CodeOf(err) == connect.CodeNotFound {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("game", string(s.game)).Msg("snapshot poll failed")
		s.store.MarkDisconnected()
		return
	}
	s.store.Reconcile(snap.Round, snap.Bets)
}

func (s *Session) loadHistory(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		res, err := s.backend.History(ctx, rpc.HistoryRequest{Game: s.game, Limit: s.settings.HistoryLimit})
		if err != nil {
			log.Warn().Err(err).Str("game", string(s.game)).Msg("history query failed")
			return
		}
		s.post(func() { s.store.ReplaceHistory(res.Items) })
	}()
}

// frame renders one view and lets the monitor act on it.
func (s *Session) frame() {
	now := s.clock.Now()
	s.store.Tick(now)
	snap := s.store.Snapshot(now)
	if s.monitor != nil {
		s.monitor.Evaluate(snap.Frame, snap.Mine)
	}
	s.emit(Message{Type: MessageView, View: &View{Game: s.game, Snapshot: snap, ServerTime: now}})
}

func (s *Session) handle(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Type {
	case CommandPlaceBet:
		err = s.placeBet(ctx, cmd)
	case CommandCashout:
		err = s.cashOut(cmd)
	case CommandVerify:
		var v Verification
		if v, err = s.verify(cmd); err == nil {
			s.emit(Message{Type: MessageVerification, RequestID: cmd.RequestID, Verification: &v})
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	if err != nil {
		s.emitError(cmd.RequestID, err.Error())
	}
}

func (s *Session) placeBet(ctx context.Context, cmd Command) error {
	if !cmd.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	switch s.game {
	case models.GameCrash:
		if cmd.AutoCashoutAt != nil && *cmd.AutoCashoutAt <= 1.0 {
			return errors.New("auto cashout must be above 1.00")
		}
		if cmd.AutoCashoutAt != nil && !models.WholeCents(*cmd.AutoCashoutAt) {
			return errors.New("auto cashout must be in whole cents")
		}
	case models.GameRoulette:
		if cmd.Color == nil || !cmd.Color.Valid() {
			return errors.New("choose red, black or green")
		}
	}
	round, ok := s.store.Current()
	if !ok {
		return errors.New("no active round")
	}

	req := rpc.PlaceBetRequest{
		Game:          s.game,
		RoundID:       round.ID,
		UserID:        s.userID,
		Amount:        cmd.Amount,
		AutoCashoutAt: cmd.AutoCashoutAt,
		Color:         cmd.Color,
	}
	go func() {
		ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		res, err := s.backend.PlaceBet(ctx, req)
		s.post(func() {
			switch {
			case err != nil:
				log.Warn().Err(err).Str("round_id", req.RoundID.String()).Msg("place bet failed")
				s.emitError(cmd.RequestID, userMessage(err))
			case !res.Success:
				s.emitError(cmd.RequestID, res.Message)
			case res.BetID != nil:
				// Shown right away; the feed fills in the rest.
				s.store.ApplyBet(models.Bet{
					ID:            *res.BetID,
					RoundID:       req.RoundID,
					UserID:        s.userID,
					Amount:        req.Amount,
					AutoCashoutAt: req.AutoCashoutAt,
					Color:         req.Color,
				})
			}
		})
	}()
	return nil
}

func (s *Session) cashOut(cmd Command) error {
	if s.monitor == nil {
		return errors.New("cashout is only available in crash")
	}
	if cmd.BetID == nil {
		return errors.New("bet_id is required")
	}
	snap := s.store.Snapshot(s.clock.Now())
	for _, b := range snap.Mine {
		if b.ID == *cmd.BetID {
			return s.monitor.CashOut(snap.Frame, b)
		}
	}
	return errors.New("bet not found in the current round")
}

// verify recomputes a round outcome. The current round is used when it
// matches; older rounds come from history and need their seeds supplied.
func (s *Session) verify(cmd Command) (Verification, error) {
	var round models.Round
	cur, ok := s.store.Current()
	switch {
	case ok && (cmd.RoundID == nil || *cmd.RoundID == cur.ID):
		round = cur
	case cmd.RoundID != nil:
		item, found := s.historyItem(*cmd.RoundID)
		if !found {
			return Verification{}, errors.New("round not found")
		}
		round = models.Round{
			ID:            item.RoundID,
			Game:          item.Game,
			CrashPoint:    item.CrashPoint,
			WinningNumber: item.WinningNumber,
		}
	default:
		return Verification{}, errors.New("no round to verify")
	}

	if cmd.ServerSeed != "" {
		seed := cmd.ServerSeed
		round.ServerSeed = &seed
	}
	if cmd.PublicSeed != "" {
		round.PublicSeed = cmd.PublicSeed
	}
	if cmd.Nonce != nil {
		round.Nonce = *cmd.Nonce
	}

	res, err := fairness.Verify(round)
	if err != nil {
		return Verification{}, err
	}
	return Verification{RoundID: round.ID, Result: res}, nil
}

func (s *Session) historyItem(id uuid.UUID) (models.HistoryItem, bool) {
	for _, it := range s.store.Snapshot(s.clock.Now()).History {
		if it.RoundID == id {
			return it, true
		}
	}
	return models.HistoryItem{}, false
}
