package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

var (
	ErrNoRound         = errors.New("no round yet")
	ErrRoundNotOpen    = errors.New("round is not accepting bets")
	ErrRoundNotRunning = errors.New("round is not running")
	ErrBetNotFound     = errors.New("bet not found")
	ErrBetResolved     = errors.New("bet already resolved")
	ErrInvalidBet      = errors.New("invalid bet")
	ErrWrongGame       = errors.New("operation not supported for this game")
)

// Rejection is a business rule failure reported by a stored function, such
// as an insufficient balance. Its message is safe to show to the user.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

// PlaceBetParams is the input of the <game>_place_bet stored function.
type PlaceBetParams struct {
	RoundID       uuid.UUID
	UserID        string
	Amount        decimal.Decimal
	AutoCashoutAt *float64
	Color         *models.RouletteColor
}

// CashoutParams is the input of the crash_cashout stored function.
type CashoutParams struct {
	BetID      uuid.UUID
	UserID     string
	Multiplier float64
}

// Settlement is the terminal update of a round.
type Settlement struct {
	EndedAt       time.Time
	CrashPoint    *float64
	WinningNumber *int
	ServerSeed    string
}

// Repository persists rounds and routes money-moving operations to the
// stored functions that own balances.
type Repository interface {
	LatestRound(ctx context.Context, game models.Game) (models.Round, error)
	CreateRound(ctx context.Context, round models.Round, serverSeed string) error
	// StartRound and SettleRound only apply when the round is still in the
	// preceding status and report whether they did.
	StartRound(ctx context.Context, game models.Game, id uuid.UUID, startedAt time.Time) (bool, error)
	SettleRound(ctx context.Context, game models.Game, id uuid.UUID, s Settlement) (bool, error)
	ServerSeed(ctx context.Context, game models.Game, id uuid.UUID) (string, error)

	PlaceBet(ctx context.Context, game models.Game, p PlaceBetParams) (uuid.UUID, error)
	CashoutBet(ctx context.Context, p CashoutParams) (models.Bet, error)
	GetBet(ctx context.Context, game models.Game, id uuid.UUID) (models.Bet, error)
	Bets(ctx context.Context, game models.Game, roundID uuid.UUID) ([]models.Bet, error)
	History(ctx context.Context, game models.Game, limit int) ([]models.HistoryItem, error)
}

// HistoryCache keeps the most recent settled outcomes per game.
type HistoryCache interface {
	Push(ctx context.Context, item models.HistoryItem) error
	Recent(ctx context.Context, game models.Game, limit int) ([]models.HistoryItem, error)
	Fill(ctx context.Context, game models.Game, items []models.HistoryItem) error
}
