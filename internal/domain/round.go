package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundLifecycle is the round's position in the pending → active → completed
// sequence. Transitions are monotonic; there is no path backwards.
type RoundLifecycle string

const (
	RoundPending   RoundLifecycle = "pending"
	RoundActive    RoundLifecycle = "active"
	RoundCompleted RoundLifecycle = "completed"
)

// SettlementStatus tracks the independent settlement sub-state-machine:
// not_settled → settling → (settled | failed).
type SettlementStatus string

const (
	SettlementNotSettled SettlementStatus = "not_settled"
	SettlementSettling   SettlementStatus = "settling"
	SettlementSettled    SettlementStatus = "settled"
	SettlementFailed     SettlementStatus = "failed"
)

// SettlementInitiator records who asked for settlement, for observability
// only — it has no bearing on the idempotence gate.
type SettlementInitiator string

const (
	InitiatorScheduler SettlementInitiator = "scheduler"
	InitiatorAdmin     SettlementInitiator = "admin"
	InitiatorAlarm     SettlementInitiator = "alarm"
	InitiatorRecovery  SettlementInitiator = "recovery"
)

// Round is one fixed-duration wagering session with a single winning card.
// RoundCode is the stable, human-legible identifier built from StartAt in a
// fixed timezone (see roundcode.go); ID is the surrogate key used for every
// foreign-key reference.
type Round struct {
	ID      uuid.UUID `db:"id" json:"id"`
	Code    string    `db:"round_code" json:"round_code"`
	StartAt time.Time `db:"start_at" json:"start_at"`
	EndAt   time.Time `db:"end_at" json:"end_at"`

	Lifecycle        RoundLifecycle   `db:"lifecycle" json:"lifecycle"`
	SettlementStatus SettlementStatus `db:"settlement_status" json:"settlement_status"`

	WinningCard      *int            `db:"winning_card" json:"winning_card,omitempty"`
	PayoutMultiplier decimal.Decimal `db:"payout_multiplier" json:"payout_multiplier"`
	CardCount        int             `db:"card_count" json:"card_count"`

	SettlementStartedAt   *time.Time `db:"settlement_started_at" json:"settlement_started_at,omitempty"`
	SettlementCompletedAt *time.Time `db:"settlement_completed_at" json:"settlement_completed_at,omitempty"`
	SettlementError       *string    `db:"settlement_error" json:"settlement_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsOpenForBetting reports whether a bet may be placed against this round at
// instant now. Both conditions are re-checked inside the placement
// transaction under a row lock — this helper is also used there, not just
// for a pre-check.
func (r *Round) IsOpenForBetting(now time.Time) bool {
	return r.Lifecycle == RoundActive && now.Before(r.EndAt)
}

// ReadyForSettlement reports whether the round has reached the lifecycle
// state settleRound requires.
func (r *Round) ReadyForSettlement() bool {
	return r.Lifecycle == RoundCompleted
}

// TimeLeft returns the duration remaining until end_at, floored at zero.
func (r *Round) TimeLeft(now time.Time) time.Duration {
	d := r.EndAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RoundSummary is the read-only projection returned by the player-facing
// `GET /games/*` endpoints.
type RoundSummary struct {
	ID               uuid.UUID        `json:"id"`
	Code             string           `json:"round_code"`
	StartAt          time.Time        `json:"start_at"`
	EndAt            time.Time        `json:"end_at"`
	Lifecycle        RoundLifecycle   `json:"lifecycle"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	WinningCard      *int             `json:"winning_card,omitempty"`
	PayoutMultiplier decimal.Decimal  `json:"payout_multiplier"`
	CardCount        int              `json:"card_count"`
	TimeLeftSeconds  int64            `json:"time_left_seconds"`
}

// ToSummary projects a Round into its public shape at instant now.
func (r *Round) ToSummary(now time.Time) RoundSummary {
	return RoundSummary{
		ID:               r.ID,
		Code:             r.Code,
		StartAt:          r.StartAt,
		EndAt:            r.EndAt,
		Lifecycle:        r.Lifecycle,
		SettlementStatus: r.SettlementStatus,
		WinningCard:      r.WinningCard,
		PayoutMultiplier: r.PayoutMultiplier,
		CardCount:        r.CardCount,
		TimeLeftSeconds:  int64(r.TimeLeft(now).Seconds()),
	}
}

// RoundCardTotal is the running sum of bet amounts staked on one card in one
// round, maintained incrementally by Bet Placement and decremented by
// Cancel so the Winning-Card Selector never has to re-aggregate BetDetail.
type RoundCardTotal struct {
	RoundID    uuid.UUID       `db:"round_id" json:"round_id"`
	CardNumber int             `db:"card_number" json:"card_number"`
	Total      decimal.Decimal `db:"total" json:"total"`
}

// SettlementReport is the return value of settleRound — see component 4.4.
type SettlementReport struct {
	RoundID      uuid.UUID       `json:"round_id"`
	WinningCard  int             `json:"winning_card"`
	WinningSlips int             `json:"winning_slips"`
	LosingSlips  int             `json:"losing_slips"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
	HouseProfit  decimal.Decimal `json:"house_profit"`
	AlreadyDone  bool            `json:"already_settled"`
}

// SettlementPreview answers "what would each card pay out if it won right
// now" for the admin pre-settlement screen (§6 settlement-preview).
type SettlementPreview struct {
	RoundID uuid.UUID           `json:"round_id"`
	Cards   []CardSettlementRow `json:"cards"`
}

// CardSettlementRow is one row of a SettlementPreview.
type CardSettlementRow struct {
	CardNumber      int             `json:"card_number"`
	TotalStaked     decimal.Decimal `json:"total_staked"`
	ExpectedPayout  decimal.Decimal `json:"expected_payout"`
	ExpectedProfit  decimal.Decimal `json:"expected_profit"`
}
