package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SlipStatus is the outcome of a bet slip once settlement has run; pending
// until then.
type SlipStatus string

const (
	SlipPending SlipStatus = "pending"
	SlipWon     SlipStatus = "won"
	SlipLost    SlipStatus = "lost"
	SlipSettled SlipStatus = "settled"
)

// BetSlip is one user's atomic wager in a round, comprising one or more
// card lines (BetDetail rows). A slip is never partially settled or
// partially cancelled — the whole slip moves together.
type BetSlip struct {
	ID      uuid.UUID `db:"id" json:"slip_id"`
	UserID  uuid.UUID `db:"user_id" json:"user_id"`
	RoundID uuid.UUID `db:"round_id" json:"round_id"`

	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	Barcode      string          `db:"barcode" json:"barcode"`
	PayoutAmount decimal.Decimal `db:"payout_amount" json:"payout_amount"`
	Status       SlipStatus      `db:"status" json:"status"`

	Claimed   bool       `db:"claimed" json:"claimed"`
	ClaimedAt *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	Cancelled bool       `db:"cancelled" json:"cancelled"`

	IdempotencyKey *string `db:"idempotency_key" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BetDetail is one (card_number, amount) line inside a slip. Created with
// its parent slip atomically; mutated only by settlement (IsWinner/Payout).
type BetDetail struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	SlipID     uuid.UUID       `db:"slip_id" json:"slip_id"`
	RoundID    uuid.UUID       `db:"round_id" json:"round_id"`
	UserID     uuid.UUID       `db:"user_id" json:"user_id"`
	CardNumber int             `db:"card_number" json:"card_number"`
	BetAmount  decimal.Decimal `db:"bet_amount" json:"bet_amount"`
	IsWinner   bool            `db:"is_winner" json:"is_winner"`
	Payout     decimal.Decimal `db:"payout" json:"payout"`
}

// BetLine is one requested (card_number, amount) pair inside a placeBet
// call, before a BetDetail row exists for it.
type BetLine struct {
	CardNumber int             `json:"card_number"`
	BetAmount  decimal.Decimal `json:"bet_amount"`
}

// PlaceBetRequest is the body of POST /bets/place.
type PlaceBetRequest struct {
	RoundID        uuid.UUID `json:"round_id"`
	Lines          []BetLine `json:"lines"`
	IdempotencyKey string    `json:"-"` // carried via the X-Idempotency-Key header
}

// SlipResponse is the full read-only view of a slip returned by placement
// (including an idempotent replay) and the slip-lookup endpoint.
type SlipResponse struct {
	SlipID       uuid.UUID       `json:"slip_id"`
	Barcode      string          `json:"barcode"`
	RoundID      uuid.UUID       `json:"round_id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PayoutAmount decimal.Decimal `json:"payout_amount"`
	Status       SlipStatus      `json:"status"`
	Claimed      bool            `json:"claimed"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	Cancelled    bool            `json:"cancelled"`
	Lines        []BetDetail     `json:"lines,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ToResponse projects a BetSlip (plus its loaded details) into its public
// shape.
func (s *BetSlip) ToResponse(details []BetDetail) SlipResponse {
	return SlipResponse{
		SlipID:       s.ID,
		Barcode:      s.Barcode,
		RoundID:      s.RoundID,
		TotalAmount:  s.TotalAmount,
		PayoutAmount: s.PayoutAmount,
		Status:       s.Status,
		Claimed:      s.Claimed,
		ClaimedAt:    s.ClaimedAt,
		Cancelled:    s.Cancelled,
		Lines:        details,
		CreatedAt:    s.CreatedAt,
	}
}

// ClaimRequest is the body of POST /bets/claim; identifier is either a slip
// id (parseable as uuid.UUID) or a barcode.
type ClaimRequest struct {
	Identifier string `json:"identifier"`
}

// ClaimResult is the return value of the claim operation.
type ClaimResult struct {
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// CancelRequest is the body of POST /bets/cancel.
type CancelRequest struct {
	SlipID uuid.UUID `json:"slip_id"`
}
