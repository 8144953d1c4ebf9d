package rpc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

const serviceName = "casino.v1.RoundService"

// Procedure paths.
const (
	PlaceBetProcedure         = "/" + serviceName + "/PlaceBet"
	ResolveBetProcedure       = "/" + serviceName + "/ResolveBet"
	AdvanceRoundTickProcedure = "/" + serviceName + "/AdvanceRoundTick"
	HistoryProcedure          = "/" + serviceName + "/History"
	SnapshotProcedure         = "/" + serviceName + "/Snapshot"
)

type PlaceBetRequest struct {
	Game          models.Game           `json:"game"`
	RoundID       uuid.UUID             `json:"round_id"`
	UserID        string                `json:"user_id"`
	Amount        decimal.Decimal       `json:"amount"`
	AutoCashoutAt *float64              `json:"auto_cashout_at,omitempty"`
	Color         *models.RouletteColor `json:"color,omitempty"`
}

// PlaceBetResponse carries business rejections as Success=false with a
// user-facing Message.
type PlaceBetResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	BetID   *uuid.UUID `json:"bet_id,omitempty"`
}

type ResolveBetRequest struct {
	Game       models.Game `json:"game"`
	BetID      uuid.UUID   `json:"bet_id"`
	UserID     string      `json:"user_id"`
	Multiplier float64     `json:"multiplier"`
}

type ResolveBetResponse struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message,omitempty"`
	Multiplier *float64         `json:"multiplier,omitempty"`
	Profit     *decimal.Decimal `json:"profit,omitempty"`
	Bet        *models.Bet      `json:"bet,omitempty"`
}

type AdvanceRoundTickRequest struct {
	Game models.Game `json:"game"`
}

type AdvanceRoundTickResponse struct {
	Round models.Round `json:"round"`
}

type HistoryRequest struct {
	Game  models.Game `json:"game"`
	Limit int         `json:"limit"`
}

type HistoryResponse struct {
	Items []models.HistoryItem `json:"items"`
}

type SnapshotRequest struct {
	Game models.Game `json:"game"`
}

type SnapshotResponse struct {
	Round      models.Round `json:"round"`
	Bets       []models.Bet `json:"bets"`
	ServerTime time.Time    `json:"server_time"`
}
