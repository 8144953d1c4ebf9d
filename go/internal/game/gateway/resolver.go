package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/autocashout"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/rpc"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Backend is the round service as the gateway uses it. *rpc.Client
// implements it.
type Backend interface {
	PlaceBet(ctx context.Context, req rpc.PlaceBetRequest) (*rpc.PlaceBetResponse, error)
	ResolveBet(ctx context.Context, req rpc.ResolveBetRequest) (*rpc.ResolveBetResponse, error)
	AdvanceRoundTick(ctx context.Context, req rpc.AdvanceRoundTickRequest) (*rpc.AdvanceRoundTickResponse, error)
	History(ctx context.Context, req rpc.HistoryRequest) (*rpc.HistoryResponse, error)
	Snapshot(ctx context.Context, req rpc.SnapshotRequest) (*rpc.SnapshotResponse, error)
}

// RejectedError is a business rejection reported by the round service.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// Is lets the cashout monitor tell rejections from transport failures.
func (e *RejectedError) Is(target error) bool {
	return target == autocashout.ErrRejected
}

// userMessage returns what the client is told about err.
func userMessage(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return "service unavailable, try again"
}

// backendResolver sends cashouts of one user's crash bets.
type backendResolver struct {
	backend Backend
	game    models.Game
	userID  string
}

func (r backendResolver) Resolve(ctx context.Context, bet models.Bet, multiplier float64) (models.Bet, error) {
	res, err := r.backend.ResolveBet(ctx, rpc.ResolveBetRequest{
		Game:       r.game,
		BetID:      bet.ID,
		UserID:     r.userID,
		Multiplier: multiplier,
	})
	if err != nil {
		return models.Bet{}, fmt.Errorf("resolve bet %s: %w", bet.ID, err)
	}
	if !res.Success {
		return models.Bet{}, &RejectedError{Message: res.Message}
	}
	if res.Bet != nil {
		return *res.Bet, nil
	}
	out := bet
	out.CashoutMultiplier = res.Multiplier
	out.Profit = res.Profit
	return out, nil
}
