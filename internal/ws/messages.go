// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeRoundOpened  MsgType = "round_opened"
	MsgTypeRoundClosed  MsgType = "round_closed"
	MsgTypeRoundSettled MsgType = "round_settled"
	MsgTypeBetPlaced    MsgType = "bet_placed"
	MsgTypeError        MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// RoundOpenedMessage — broadcast when a new round transitions pending → active.
// ──────────────────────────────────────────────────────────────────────────────

// RoundOpenedMessage carries the identity of the freshly activated round.
type RoundOpenedMessage struct {
	Type             MsgType         `json:"type"`
	RoundID          uuid.UUID       `json:"round_id"`
	RoundCode        string          `json:"round_code"`
	StartAt          time.Time       `json:"start_at"`
	EndAt            time.Time       `json:"end_at"`
	CardCount        int             `json:"card_count"`
	PayoutMultiplier decimal.Decimal `json:"payout_multiplier"`
	Timestamp        time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// BetPlacedMessage — broadcast after a bet is accepted so card totals refresh
// for everyone watching the round.
// ──────────────────────────────────────────────────────────────────────────────

// BetPlacedMessage notifies all clients that a round's card totals changed.
type BetPlacedMessage struct {
	Type       MsgType         `json:"type"`
	RoundID    uuid.UUID       `json:"round_id"`
	CardNumber int             `json:"card_number"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// RoundClosedMessage — broadcast when a round transitions active → completed.
// ──────────────────────────────────────────────────────────────────────────────

// RoundClosedMessage tells clients betting has closed for a round, ahead of
// settlement.
type RoundClosedMessage struct {
	Type      MsgType   `json:"type"`
	RoundID   uuid.UUID `json:"round_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// RoundSettledMessage — broadcast when a round's settlement completes.
// ──────────────────────────────────────────────────────────────────────────────

// RoundSettledMessage tells clients which card won.
type RoundSettledMessage struct {
	Type        MsgType   `json:"type"`
	RoundID     uuid.UUID `json:"round_id"`
	WinningCard int       `json:"winning_card"`
	Timestamp   time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
