// Package gateway serves the websocket clients of the round engine. Each
// connection gets its own Session, which owns the client-side round state.
package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/fairness"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/roundstate"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// CommandType is the kind of a client command.
type CommandType string

const (
	CommandPlaceBet CommandType = "place_bet"
	CommandCashout  CommandType = "cashout"
	CommandVerify   CommandType = "verify"
)

// Command is a message sent by the client. Fields not used by a command type
// are ignored.
type Command struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`

	// place_bet
	Amount        decimal.Decimal       `json:"amount"`
	AutoCashoutAt *float64              `json:"auto_cashout_at,omitempty"`
	Color         *models.RouletteColor `json:"color,omitempty"`

	// cashout
	BetID *uuid.UUID `json:"bet_id,omitempty"`

	// verify; seeds override what the round carries
	RoundID    *uuid.UUID `json:"round_id,omitempty"`
	ServerSeed string     `json:"server_seed,omitempty"`
	PublicSeed string     `json:"public_seed,omitempty"`
	Nonce      *int64     `json:"nonce,omitempty"`
}

// MessageType is the kind of a server message.
type MessageType string

const (
	MessageView         MessageType = "view"
	MessageError        MessageType = "error"
	MessageVerification MessageType = "verification"
)

// Message is pushed to the client.
type Message struct {
	Type         MessageType   `json:"type"`
	RequestID    string        `json:"request_id,omitempty"`
	View         *View         `json:"view,omitempty"`
	Error        string        `json:"error,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
}

// View is one rendered frame of the session.
type View struct {
	Game models.Game `json:"game"`
	roundstate.Snapshot
	ServerTime time.Time `json:"server_time"`
}

type Verification struct {
	RoundID uuid.UUID `json:"round_id"`
	fairness.Result
}
