// Package events defines the push-feed envelope and the wire shapes of the
// round and bet rows it carries.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Table names the source table of a row change.
type Table string

const (
	TableRounds Table = "rounds"
	TableBets   Table = "bets"
)

// Op is the row operation. Only inserts and updates are published.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// Change is one row-level change event as carried on the push feed.
type Change struct {
	EventID   string          `json:"eventId"`
	Game      models.Game     `json:"game"`
	Table     Table           `json:"table"`
	Op        Op              `json:"op"`
	Timestamp time.Time       `json:"timestamp"`
	Record    json.RawMessage `json:"record"`
}

// Subject returns the NATS subject a change is published on.
func (c Change) Subject() string {
	return Subject(c.Game, c.Table, c.Op)
}

// Subject builds casino.<game>.<table>.<op>.
func Subject(game models.Game, table Table, op Op) string {
	return fmt.Sprintf("casino.%s.%s.%s", game, table, strings.ToLower(string(op)))
}

// SubjectFilter matches every change of one game, or of all games when game
// is empty.
func SubjectFilter(game models.Game) string {
	if game == "" {
		return "casino.>"
	}
	return fmt.Sprintf("casino.%s.>", game)
}

// Validate rejects envelopes the store cannot route.
func (c Change) Validate() error {
	if !c.Game.Valid() {
		return fmt.Errorf("unknown game %q", c.Game)
	}
	if c.Table != TableRounds && c.Table != TableBets {
		return fmt.Errorf("unknown table %q", c.Table)
	}
	if c.Op != OpInsert && c.Op != OpUpdate {
		return fmt.Errorf("unsupported op %q", c.Op)
	}
	if len(c.Record) == 0 {
		return fmt.Errorf("empty record")
	}
	return nil
}

// crashRoundRow is the crash round as persisted and published.
type crashRoundRow struct {
	ID         uuid.UUID          `json:"id"`
	Status     models.RoundStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at"`
	EndedAt    *time.Time         `json:"ended_at"`
	Outcome    *float64           `json:"outcome"`
	ServerSeed *string            `json:"server_seed"`
	SeedHash   string             `json:"server_seed_hash,omitempty"`
	PublicSeed string             `json:"public_seed"`
	Nonce      int64              `json:"nonce"`
}

// rouletteRoundRow is the roulette round as persisted and published.
type rouletteRoundRow struct {
	ID            uuid.UUID          `json:"id"`
	Status        models.RoundStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	SpunAt        *time.Time         `json:"spun_at"`
	EndedAt       *time.Time         `json:"ended_at"`
	WinningNumber *int               `json:"winning_number"`
	ServerSeed    *string            `json:"server_seed"`
	SeedHash      string             `json:"server_seed_hash,omitempty"`
	PublicSeed    string             `json:"public_seed"`
	Nonce         int64              `json:"nonce"`
}

type crashBetRow struct {
	ID                uuid.UUID        `json:"id"`
	RoundID           uuid.UUID        `json:"round_id"`
	UserID            string           `json:"user_id"`
	BetAmount         decimal.Decimal  `json:"bet_amount"`
	CashoutMultiplier *float64         `json:"cashout_multiplier"`
	Profit            *decimal.Decimal `json:"profit"`
	AutoCashoutAt     *float64         `json:"auto_cashout_at"`
}

type rouletteBetRow struct {
	ID        uuid.UUID             `json:"id"`
	RoundID   uuid.UUID             `json:"round_id"`
	UserID    string                `json:"user_id"`
	BetAmount decimal.Decimal       `json:"bet_amount"`
	BetColor  *models.RouletteColor `json:"bet_color"`
	Profit    *decimal.Decimal      `json:"profit"`
}

// DecodeRound parses a round record of the given game.
func DecodeRound(game models.Game, data []byte) (models.Round, error) {
	switch game {
	case models.GameCrash:
		var row crashRoundRow
		if err := json.Unmarshal(data, &row); err != nil {
			return models.Round{}, fmt.Errorf("unmarshal crash round: %w", err)
		}
		return models.Round{
			ID:         row.ID,
			Game:       game,
			Status:     row.Status,
			CreatedAt:  row.CreatedAt,
			StartedAt:  row.StartedAt,
			EndedAt:    row.EndedAt,
			CrashPoint: row.Outcome,
			ServerSeed: row.ServerSeed,
			SeedHash:   row.SeedHash,
			PublicSeed: row.PublicSeed,
			Nonce:      row.Nonce,
		}, nil
	case models.GameRoulette:
		var row rouletteRoundRow
		if err := json.Unmarshal(data, &row); err != nil {
			return models.Round{}, fmt.Errorf("unmarshal roulette round: %w", err)
		}
		return models.Round{
			ID:            row.ID,
			Game:          game,
			Status:        row.Status,
			CreatedAt:     row.CreatedAt,
			StartedAt:     row.SpunAt,
			EndedAt:       row.EndedAt,
			WinningNumber: row.WinningNumber,
			ServerSeed:    row.ServerSeed,
			SeedHash:      row.SeedHash,
			PublicSeed:    row.PublicSeed,
			Nonce:         row.Nonce,
		}, nil
	default:
		return models.Round{}, fmt.Errorf("unknown game %q", game)
	}
}

// EncodeRound renders a round in its game's wire shape.
func EncodeRound(r models.Round) ([]byte, error) {
	switch r.Game {
	case models.GameCrash:
		return json.Marshal(crashRoundRow{
			ID: r.ID, Status: r.Status, CreatedAt: r.CreatedAt, StartedAt: r.StartedAt,
			EndedAt: r.EndedAt, Outcome: r.CrashPoint, ServerSeed: r.ServerSeed,
			SeedHash: r.SeedHash, PublicSeed: r.PublicSeed, Nonce: r.Nonce,
		})
	case models.GameRoulette:
		return json.Marshal(rouletteRoundRow{
			ID: r.ID, Status: r.Status, CreatedAt: r.CreatedAt, SpunAt: r.StartedAt,
			EndedAt: r.EndedAt, WinningNumber: r.WinningNumber, ServerSeed: r.ServerSeed,
			SeedHash: r.SeedHash, PublicSeed: r.PublicSeed, Nonce: r.Nonce,
		})
	default:
		return nil, fmt.Errorf("unknown game %q", r.Game)
	}
}

// DecodeBet parses a bet record of the given game.
func DecodeBet(game models.Game, data []byte) (models.Bet, error) {
	switch game {
	case models.GameCrash:
		var row crashBetRow
		if err := json.Unmarshal(data, &row); err != nil {
			return models.Bet{}, fmt.Errorf("unmarshal crash bet: %w", err)
		}
		return models.Bet{
			ID: row.ID, RoundID: row.RoundID, UserID: row.UserID, Amount: row.BetAmount,
			AutoCashoutAt: row.AutoCashoutAt, CashoutMultiplier: row.CashoutMultiplier, Profit: row.Profit,
		}, nil
	case models.GameRoulette:
		var row rouletteBetRow
		if err := json.Unmarshal(data, &row); err != nil {
			return models.Bet{}, fmt.Errorf("unmarshal roulette bet: %w", err)
		}
		return models.Bet{
			ID: row.ID, RoundID: row.RoundID, UserID: row.UserID, Amount: row.BetAmount,
			Color: row.BetColor, Profit: row.Profit,
		}, nil
	default:
		return models.Bet{}, fmt.Errorf("unknown game %q", game)
	}
}

// EncodeBet renders a bet in its game's wire shape.
func EncodeBet(game models.Game, b models.Bet) ([]byte, error) {
	switch game {
	case models.GameCrash:
		return json.Marshal(crashBetRow{
			ID: b.ID, RoundID: b.RoundID, UserID: b.UserID, BetAmount: b.Amount,
			CashoutMultiplier: b.CashoutMultiplier, Profit: b.Profit, AutoCashoutAt: b.AutoCashoutAt,
		})
	case models.GameRoulette:
		return json.Marshal(rouletteBetRow{
			ID: b.ID, RoundID: b.RoundID, UserID: b.UserID, BetAmount: b.Amount,
			BetColor: b.Color, Profit: b.Profit,
		})
	default:
		return nil, fmt.Errorf("unknown game %q", game)
	}
}

// NewRoundChange wraps a round into a change envelope.
func NewRoundChange(op Op, r models.Round, at time.Time) (Change, error) {
	rec, err := EncodeRound(r)
	if err != nil {
		return Change{}, err
	}
	return Change{EventID: uuid.NewString(), Game: r.Game, Table: TableRounds, Op: op, Timestamp: at, Record: rec}, nil
}

// NewBetChange wraps a bet into a change envelope.
func NewBetChange(game models.Game, op Op, b models.Bet, at time.Time) (Change, error) {
	rec, err := EncodeBet(game, b)
	if err != nil {
		return Change{}, err
	}
	return Change{EventID: uuid.NewString(), Game: game, Table: TableBets, Op: op, Timestamp: at, Record: rec}, nil
}
