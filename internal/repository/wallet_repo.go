package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// WalletRepository is the typed data-access layer behind the Wallet Ledger.
// Every mutating method here must run inside a transaction the caller owns;
// the row lock taken by LockBalance only holds for that transaction's
// lifetime.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository constructs a WalletRepository.
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// GetByUserID fetches a user's wallet (non-locking read).
func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.db.GetContext(ctx, &w, `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetByUserID: %w", err)
	}
	return &w, nil
}

// LockBalance locks the user's wallet row FOR UPDATE and returns the
// current balance observed in tx's snapshot. Debit and Credit do not call
// it; their caller (the ledger) calls it first so the read-check-write
// sequence is atomic.
func (r *WalletRepository) LockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, domain.ErrWalletNotFound
		}
		return decimal.Zero, fmt.Errorf("wallet_repo.LockBalance: %w", err)
	}
	return balance, nil
}

// Debit subtracts amount from the user's balance. Caller must already hold
// the row lock via LockBalance and must have checked balance >= amount.
func (r *WalletRepository) Debit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = now() WHERE user_id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("wallet_repo.Debit: %w", err)
	}
	return nil
}

// Credit adds amount to the user's balance. Caller must already hold the
// row lock via LockBalance.
func (r *WalletRepository) Credit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE user_id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("wallet_repo.Credit: %w", err)
	}
	return nil
}

// InsertEntry writes one append-only ledger row inside tx.
func (r *WalletRepository) InsertEntry(ctx context.Context, tx *sqlx.Tx, e *domain.WalletLedgerEntry) error {
	query := `
		INSERT INTO wallet_ledger_entries
			(id, user_id, kind, amount, direction, round_id, ref_kind, ref_id, status, comment, created_at)
		VALUES
			(:id, :user_id, :kind, :amount, :direction, :round_id, :ref_kind, :ref_id, :status, :comment, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("wallet_repo.InsertEntry: %w", err)
	}
	return nil
}

// ListEntries returns a user's ledger page, most recent first. Non-locking.
func (r *WalletRepository) ListEntries(ctx context.Context, userID uuid.UUID, filter domain.EntryFilter, page domain.Pagination) ([]domain.WalletLedgerEntry, error) {
	query := `
		SELECT id, user_id, kind, amount, direction, round_id, ref_kind, ref_id, status, comment, created_at
		FROM wallet_ledger_entries
		WHERE user_id = $1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR ref_kind = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	var entries []domain.WalletLedgerEntry
	err := r.db.SelectContext(ctx, &entries, query, userID, string(filter.Kind), string(filter.RefKind), page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("wallet_repo.ListEntries: %w", err)
	}
	return entries, nil
}

// FindEntryByRef looks up the ledger entry recorded against a given
// (refKind, refID) pair. Nothing in this repository calls it.
func (r *WalletRepository) FindEntryByRef(ctx context.Context, refKind domain.RefKind, refID uuid.UUID) (*domain.WalletLedgerEntry, bool, error) {
	var e domain.WalletLedgerEntry
	err := r.db.GetContext(ctx, &e, `
		SELECT id, user_id, kind, amount, direction, round_id, ref_kind, ref_id, status, comment, created_at
		FROM wallet_ledger_entries
		WHERE ref_kind = $1 AND ref_id = $2
		LIMIT 1`, string(refKind), refID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wallet_repo.FindEntryByRef: %w", err)
	}
	return &e, true, nil
}
