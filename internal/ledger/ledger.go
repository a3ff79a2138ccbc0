// Package ledger implements the Wallet Ledger (SPEC_FULL.md §4.2): the
// single transactional entry point for every credit/debit against a user's
// balance, always invoked inside a caller-owned database transaction.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// walletStore is the narrow repository surface the ledger needs. Declared
// here, consumer-side, so tests can fake it without a database.
type walletStore interface {
	LockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	Credit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	InsertEntry(ctx context.Context, tx *sqlx.Tx, e *domain.WalletLedgerEntry) error
	ListEntries(ctx context.Context, userID uuid.UUID, filter domain.EntryFilter, page domain.Pagination) ([]domain.WalletLedgerEntry, error)
}

// Ledger is the Wallet Ledger component.
type Ledger struct {
	wallets walletStore
}

// New constructs a Ledger over the given wallet repository.
func New(wallets walletStore) *Ledger {
	return &Ledger{wallets: wallets}
}

// ApplyEntry is the ledger's single public mutating operation. It locks the
// user row, applies the signed effect, writes the append-only audit entry,
// and returns the persisted entry. It must always run inside tx; the
// caller remains free to roll the outer transaction back after this
// returns without error — nothing here has a side effect outside tx.
func (l *Ledger) ApplyEntry(
	ctx context.Context,
	tx *sqlx.Tx,
	userID uuid.UUID,
	direction domain.Direction,
	amount decimal.Decimal,
	kind domain.TxKind,
	refKind domain.RefKind,
	refID uuid.UUID,
	roundID *uuid.UUID,
	comment string,
) (*domain.WalletLedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, domain.ErrValidation
	}

	balance, err := l.wallets.LockBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	switch direction {
	case domain.DirectionDebit:
		if balance.LessThan(amount) {
			return nil, domain.ErrInsufficientBalance
		}
		if err := l.wallets.Debit(ctx, tx, userID, amount); err != nil {
			return nil, err
		}
	case domain.DirectionCredit:
		if err := l.wallets.Credit(ctx, tx, userID, amount); err != nil {
			return nil, err
		}
	default:
		return nil, domain.ErrValidation
	}

	entry := &domain.WalletLedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Direction: direction,
		RoundID:   roundID,
		RefKind:   refKind,
		RefID:     refID,
		Status:    domain.EntryCompleted,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.wallets.InsertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries is a non-locking read helper over a user's ledger history.
func (l *Ledger) ListEntries(ctx context.Context, userID uuid.UUID, filter domain.EntryFilter, page domain.Pagination) ([]domain.WalletLedgerEntry, error) {
	return l.wallets.ListEntries(ctx, userID, filter, page)
}

// Summarize folds a page of entries into a signed balance delta, useful for
// reconciliation jobs and the P1 invariant check in tests.
func Summarize(entries []domain.WalletLedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Status != domain.EntryCompleted {
			continue
		}
		if e.Direction == domain.DirectionCredit {
			total = total.Add(e.Amount)
		} else {
			total = total.Sub(e.Amount)
		}
	}
	return total
}
