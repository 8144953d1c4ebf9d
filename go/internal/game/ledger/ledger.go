// Package ledger tracks the bets of the active round.
package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Aggregate summarises all bets of the round.
type Aggregate struct {
	PlayerCount  int             `json:"player_count"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
}

// Ledger holds one round's bets keyed by id. Mine and All are views over the
// same map so they cannot diverge. Ledger is not safe for concurrent use; the
// round state store guards it together with the round it belongs to.
type Ledger struct {
	roundID uuid.UUID
	bets    map[uuid.UUID]models.Bet
}

// New returns an empty ledger bound to roundID.
func New(roundID uuid.UUID) *Ledger {
	return &Ledger{roundID: roundID, bets: make(map[uuid.UUID]models.Bet)}
}

// RoundID returns the round the ledger is bound to.
func (l *Ledger) RoundID() uuid.UUID {
	return l.roundID
}

// Reset drops every bet and rebinds the ledger to a new round.
func (l *Ledger) Reset(roundID uuid.UUID) {
	l.roundID = roundID
	l.bets = make(map[uuid.UUID]models.Bet)
}

// RecordOrUpdate upserts a bet by id. Bets of another round are ignored and
// reported as false.
func (l *Ledger) RecordOrUpdate(bet models.Bet) bool {
	if bet.RoundID != l.roundID {
		return false
	}
	if existing, ok := l.bets[bet.ID]; ok {
		l.bets[bet.ID] = existing.Merge(bet)
		return true
	}
	l.bets[bet.ID] = bet
	return true
}

// Get returns a bet by id.
func (l *Ledger) Get(id uuid.UUID) (models.Bet, bool) {
	b, ok := l.bets[id]
	return b, ok
}

// Len returns the number of bets.
func (l *Ledger) Len() int {
	return len(l.bets)
}

// All returns every bet in display order.
func (l *Ledger) All() []models.Bet {
	return l.filter(func(models.Bet) bool { return true })
}

// Mine returns the bets of one user in display order.
func (l *Ledger) Mine(userID string) []models.Bet {
	return l.filter(func(b models.Bet) bool { return b.UserID == userID })
}

// Others returns the bets of everybody except userID in display order.
func (l *Ledger) Others(userID string) []models.Bet {
	return l.filter(func(b models.Bet) bool { return b.UserID != userID })
}

// Aggregate scans the round's bets. Only resolved bets contribute profit.
func (l *Ledger) Aggregate() Aggregate {
	agg := Aggregate{TotalWagered: decimal.Zero, TotalProfit: decimal.Zero}
	players := make(map[string]struct{})
	for _, b := range l.bets {
		players[b.UserID] = struct{}{}
		agg.TotalWagered = agg.TotalWagered.Add(b.Amount)
		if b.Profit != nil {
			agg.TotalProfit = agg.TotalProfit.Add(*b.Profit)
		}
	}
	agg.PlayerCount = len(players)
	return agg
}

func (l *Ledger) filter(keep func(models.Bet) bool) []models.Bet {
	out := make([]models.Bet, 0, len(l.bets))
	for _, b := range l.bets {
		if keep(b) {
			out = append(out, b)
		}
	}
	Sort(out)
	return out
}

// Sort orders bets resolved-first; resolved by profit descending, unresolved
// by wager descending; ties by id.
func Sort(bets []models.Bet) {
	sort.SliceStable(bets, func(i, j int) bool {
		a, b := bets[i], bets[j]
		ar, br := a.Resolved(), b.Resolved()
		if ar != br {
			return ar
		}
		if ar {
			if c := profitOf(a).Cmp(profitOf(b)); c != 0 {
				return c > 0
			}
		} else if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		return a.ID.String() < b.ID.String()
	})
}

func profitOf(b models.Bet) decimal.Decimal {
	if b.Profit != nil {
		return *b.Profit
	}
	if b.CashoutMultiplier != nil {
		return b.Amount.Mul(decimal.NewFromFloat(*b.CashoutMultiplier)).Sub(b.Amount)
	}
	return decimal.Zero
}
