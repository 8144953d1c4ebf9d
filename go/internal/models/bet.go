package models

import (
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RouletteColor is the field a roulette bet is placed on.
type RouletteColor string

const (
	ColorGreen RouletteColor = "green"
	ColorRed   RouletteColor = "red"
	ColorBlack RouletteColor = "black"
)

// ColorOf maps a wheel number (0-14) to its color.
func ColorOf(n int) RouletteColor {
	switch {
	case n == 0:
		return ColorGreen
	case n >= 1 && n <= 7:
		return ColorRed
	default:
		return ColorBlack
	}
}

// Payout is the gross multiplier paid on a winning bet of this color.
func (c RouletteColor) Payout() int64 {
	if c == ColorGreen {
		return 14
	}
	return 2
}

// Valid reports whether c is one of the wheel colors.
func (c RouletteColor) Valid() bool {
	return c == ColorGreen || c == ColorRed || c == ColorBlack
}

// Bet is one wager by one user in one round. CashoutMultiplier (crash) and
// Profit are nil until the bet is resolved and are set at most once.
type Bet struct {
	ID                uuid.UUID        `json:"id"`
	RoundID           uuid.UUID        `json:"round_id"`
	UserID            string           `json:"user_id"`
	Amount            decimal.Decimal  `json:"bet_amount"`
	AutoCashoutAt     *float64         `json:"auto_cashout_at,omitempty"`
	CashoutMultiplier *float64         `json:"cashout_multiplier,omitempty"`
	Color             *RouletteColor   `json:"bet_color,omitempty"`
	Profit            *decimal.Decimal `json:"profit,omitempty"`
}

// Resolved reports whether the bet has been cashed out or settled.
func (b *Bet) Resolved() bool {
	return b.CashoutMultiplier != nil || b.Profit != nil
}

// Merge applies a newer observation of the same bet. Non-nil fields of next
// overwrite, but resolution fields are kept once set.
func (b Bet) Merge(next Bet) Bet {
	out := b
	if next.UserID != "" {
		out.UserID = next.UserID
	}
	if !next.Amount.IsZero() {
		out.Amount = next.Amount
	}
	if next.AutoCashoutAt != nil {
		out.AutoCashoutAt = next.AutoCashoutAt
	}
	if next.Color != nil && out.Color == nil {
		out.Color = next.Color
	}
	if out.CashoutMultiplier == nil {
		out.CashoutMultiplier = next.CashoutMultiplier
	}
	if out.Profit == nil {
		out.Profit = next.Profit
	}
	return out
}

// WholeCents reports whether a multiplier has at most two decimals. Cashouts
// settle in cents, so a finer auto cashout target could not be honored.
func WholeCents(m float64) bool {
	c := m * 100
	return math.Abs(c-math.Round(c)) < 1e-6
}
