package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxKind is the broad category of money movement a ledger entry represents.
type TxKind string

const (
	TxRecharge   TxKind = "recharge"
	TxWithdrawal TxKind = "withdrawal"
	TxGame       TxKind = "game"
)

// Direction is explicit at the call site — applyEntry never infers credit
// vs. debit from amount sign, since amounts are always stored positive.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// RefKind names what triggered a ledger entry, for audit and for the
// invariant checks in §8 (P3, P4) that join entries back to their slip.
type RefKind string

const (
	RefBetPlacement RefKind = "bet_placement"
	RefSettlement   RefKind = "settlement"
	RefClaim        RefKind = "claim"
	RefCancelRefund RefKind = "cancel_refund"
	RefDeposit      RefKind = "deposit"
	RefWithdrawal   RefKind = "withdrawal"
)

// EntryStatus reflects whether the entry's effect on the balance is final.
// The ledger only ever writes `completed` — `pending`/`failed` exist for
// completeness with external recharge/withdrawal flows that stage an entry
// before the funds clear, which sit outside the core's write path.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// WalletLedgerEntry is one append-only row of the wallet ledger. Never
// updated or deleted by the core.
type WalletLedgerEntry struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Kind      TxKind          `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Direction Direction       `db:"direction" json:"direction"`
	RoundID   *uuid.UUID      `db:"round_id" json:"round_id,omitempty"`
	RefKind   RefKind         `db:"ref_kind" json:"ref_kind"`
	RefID     uuid.UUID       `db:"ref_id" json:"ref_id"`
	Status    EntryStatus     `db:"status" json:"status"`
	Comment   string          `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Wallet is the core's narrow view of a user: a single fixed-point balance,
// touched only through the ledger module.
type Wallet struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// WalletSummary is the response body of GET /wallet/summary.
type WalletSummary struct {
	UserID  uuid.UUID           `json:"user_id"`
	Balance decimal.Decimal     `json:"balance"`
	Entries []WalletLedgerEntry `json:"entries"`
}

// EntryFilter narrows listEntries results; zero values mean "no filter".
// WalletRepository.ListEntries applies Kind and RefKind only; Since and
// Until are not applied.
type EntryFilter struct {
	Kind    TxKind
	RefKind RefKind
	Since   time.Time
	Until   time.Time
}

// Pagination is the shared page request used by every listing read.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// Normalize clamps a caller-supplied page to sane bounds, filling in the
// default limit when unset.
func (p Pagination) Normalize() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
