package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/scheduler"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Engine is the per-game authority behind the service. *scheduler.Scheduler
// implements it.
type Engine interface {
	Tick(ctx context.Context) (models.Round, error)
	PlaceBet(ctx context.Context, p scheduler.PlaceBetParams) (uuid.UUID, error)
	ResolveBet(ctx context.Context, p scheduler.CashoutParams) (models.Bet, error)
	History(ctx context.Context, limit int) ([]models.HistoryItem, error)
	Snapshot(ctx context.Context) (models.Round, []models.Bet, error)
}

// Service serves RoundService for every enabled game.
type Service struct {
	engines map[models.Game]Engine
	clock   clockwork.Clock
}

// NewService creates the service over one engine per game.
func NewService(engines map[models.Game]Engine, clock clockwork.Clock) *Service {
	return &Service{engines: engines, clock: clock}
}

// Register mounts every procedure on mux.
func (s *Service) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(loggingInterceptor()),
	}, opts...)

	mux.Handle(PlaceBetProcedure, connect.NewUnaryHandler(PlaceBetProcedure, s.PlaceBet, opts...))
	mux.Handle(ResolveBetProcedure, connect.NewUnaryHandler(ResolveBetProcedure, s.ResolveBet, opts...))
	mux.Handle(AdvanceRoundTickProcedure, connect.NewUnaryHandler(AdvanceRoundTickProcedure, s.AdvanceRoundTick, opts...))
	mux.Handle(HistoryProcedure, connect.NewUnaryHandler(HistoryProcedure, s.History, opts...))
	mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, s.Snapshot, opts...))
}

func (s *Service) engine(game models.Game) (Engine, error) {
	eng, ok := s.engines[game]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("game %q is not enabled", game))
	}
	return eng, nil
}

// rejection extracts the user-facing message of a business rule failure.
func rejection(err error) (string, bool) {
	var rej *scheduler.Rejection
	if errors.As(err, &rej) {
		return rej.Message, true
	}
	for _, target := range []error{
		scheduler.ErrRoundNotOpen,
		scheduler.ErrRoundNotRunning,
		scheduler.ErrBetNotFound,
		scheduler.ErrBetResolved,
		scheduler.ErrInvalidBet,
		scheduler.ErrWrongGame,
	} {
		if errors.Is(err, target) {
			return err.Error(), true
		}
	}
	return "", false
}

// PlaceBet places a bet in the open round.
func (s *Service) PlaceBet(ctx context.Context, req *connect.Request[PlaceBetRequest]) (*connect.Response[PlaceBetResponse], error) {
	eng, err := s.engine(req.Msg.Game)
	if err != nil {
		return nil, err
	}
	id, err := eng.PlaceBet(ctx, scheduler.PlaceBetParams{
		RoundID:       req.Msg.RoundID,
		UserID:        req.Msg.UserID,
		Amount:        req.Msg.Amount,
		AutoCashoutAt: req.Msg.AutoCashoutAt,
		Color:         req.Msg.Color,
	})
	if err != nil {
		if msg, ok := rejection(err); ok {
			return connect.NewResponse(&PlaceBetResponse{Success: false, Message: msg}), nil
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&PlaceBetResponse{Success: true, BetID: &id}), nil
}

// ResolveBet cashes out a crash bet.
func (s *Service) ResolveBet(ctx context.Context, req *connect.Request[ResolveBetRequest]) (*connect.Response[ResolveBetResponse], error) {
	eng, err := s.engine(req.Msg.Game)
	if err != nil {
		return nil, err
	}
	bet, err := eng.ResolveBet(ctx, scheduler.CashoutParams{
		BetID:      req.Msg.BetID,
		UserID:     req.Msg.UserID,
		Multiplier: req.Msg.Multiplier,
	})
	if err != nil {
		if msg, ok := rejection(err); ok {
			return connect.NewResponse(&ResolveBetResponse{Success: false, Message: msg}), nil
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ResolveBetResponse{
		Success:    true,
		Multiplier: bet.CashoutMultiplier,
		Profit:     bet.Profit,
		Bet:        &bet,
	}), nil
}

// AdvanceRoundTick nudges the scheduler. Redundant calls are harmless.
func (s *Service) AdvanceRoundTick(ctx context.Context, req *connect.Request[AdvanceRoundTickRequest]) (*connect.Response[AdvanceRoundTickResponse], error) {
	eng, err := s.engine(req.Msg.Game)
	if err != nil {
		return nil, err
	}
	r, err := eng.Tick(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&AdvanceRoundTickResponse{Round: r}), nil
}

// History returns the last settled outcomes.
func (s *Service) History(ctx context.Context, req *connect.Request[HistoryRequest]) (*connect.Response[HistoryResponse], error) {
	eng, err := s.engine(req.Msg.Game)
	if err != nil {
		return nil, err
	}
	items, err := eng.History(ctx, req.Msg.Limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&HistoryResponse{Items: items}), nil
}

// Snapshot returns the current round and its bets.
func (s *Service) Snapshot(ctx context.Context, req *connect.Request[SnapshotRequest]) (*connect.Response[SnapshotResponse], error) {
	eng, err := s.engine(req.Msg.Game)
	if err != nil {
		return nil, err
	}
	r, bets, err := eng.Snapshot(ctx)
	if errors.Is(err, scheduler.ErrNoRound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&SnapshotResponse{Round: r, Bets: bets, ServerTime: s.clock.Now()}), nil
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			ev := log.Debug()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			ev.Str("procedure", req.Spec().Procedure).Dur("took", time.Since(start)).Msg("rpc")
			return res, err
		}
	}
}
