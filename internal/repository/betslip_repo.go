package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// pqUniqueViolation reports whether err is a Postgres unique_violation
// (23505), used to detect a concurrent insert racing a guarded lookup.
func pqUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// BetSlipRepository handles all database operations for BetSlip and
// BetDetail.
type BetSlipRepository struct {
	db *sqlx.DB
}

// NewBetSlipRepository constructs a BetSlipRepository.
func NewBetSlipRepository(db *sqlx.DB) *BetSlipRepository {
	return &BetSlipRepository{db: db}
}

// CreateSlip inserts a new bet slip inside an existing transaction. Returns
// domain.ErrIdempotencyMismatch on any unique violation, whichever user owns
// the colliding slip (the lookup in PlaceBet and this insert race when two
// requests carry the same key concurrently), letting the caller re-read the
// winner to tell a same-user replay from a reused key rather than surface a
// raw constraint error.
func (r *BetSlipRepository) CreateSlip(ctx context.Context, tx *sqlx.Tx, s *domain.BetSlip) error {
	query := `
		INSERT INTO bet_slips
			(id, user_id, round_id, total_amount, barcode, payout_amount,
			 status, claimed, claimed_at, cancelled, idempotency_key,
			 created_at, updated_at)
		VALUES
			(:id, :user_id, :round_id, :total_amount, :barcode, :payout_amount,
			 :status, :claimed, :claimed_at, :cancelled, :idempotency_key,
			 :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
		if pqUniqueViolation(err) {
			return domain.ErrIdempotencyMismatch
		}
		return fmt.Errorf("betslip_repo.CreateSlip: %w", err)
	}
	return nil
}

// CreateDetails bulk-inserts the per-card lines of a slip inside tx.
func (r *BetSlipRepository) CreateDetails(ctx context.Context, tx *sqlx.Tx, details []domain.BetDetail) error {
	query := `
		INSERT INTO bet_details
			(id, slip_id, round_id, user_id, card_number, bet_amount, is_winner, payout)
		VALUES
			(:id, :slip_id, :round_id, :user_id, :card_number, :bet_amount, :is_winner, :payout)`
	for i := range details {
		if _, err := tx.NamedExecContext(ctx, query, &details[i]); err != nil {
			return fmt.Errorf("betslip_repo.CreateDetails: %w", err)
		}
	}
	return nil
}

// GetSlipByID fetches a slip by its primary key, non-locking.
func (r *BetSlipRepository) GetSlipByID(ctx context.Context, id uuid.UUID) (*domain.BetSlip, error) {
	var s domain.BetSlip
	err := r.db.GetContext(ctx, &s, `SELECT * FROM bet_slips WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSlipNotFound
		}
		return nil, fmt.Errorf("betslip_repo.GetSlipByID: %w", err)
	}
	return &s, nil
}

// GetSlipByBarcode fetches a slip by its human-facing identifier, used by
// the claim endpoint which accepts either a UUID or a barcode.
func (r *BetSlipRepository) GetSlipByBarcode(ctx context.Context, barcode string) (*domain.BetSlip, error) {
	var s domain.BetSlip
	err := r.db.GetContext(ctx, &s, `SELECT * FROM bet_slips WHERE barcode = $1`, barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSlipNotFound
		}
		return nil, fmt.Errorf("betslip_repo.GetSlipByBarcode: %w", err)
	}
	return &s, nil
}

// LockSlipByID fetches a slip holding a row lock for the lifetime of tx,
// used by claim and cancel before mutating claimed/cancelled state.
func (r *BetSlipRepository) LockSlipByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.BetSlip, error) {
	var s domain.BetSlip
	err := tx.GetContext(ctx, &s, `SELECT * FROM bet_slips WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSlipNotFound
		}
		return nil, fmt.Errorf("betslip_repo.LockSlipByID: %w", err)
	}
	return &s, nil
}

// GetByIdempotencyKey looks up a previously created slip by its
// client-supplied idempotency key — the de-duplication check in §4.5 step
// 1, backed by the table's global unique index on idempotency_key rather
// than an in-process cache, so it survives a process restart. The key is
// unique across all users, not scoped to the caller: the caller is
// responsible for comparing the returned slip's UserID against the
// requesting user to tell an idempotent replay from a reused key.
func (r *BetSlipRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.BetSlip, bool, error) {
	var s domain.BetSlip
	err := r.db.GetContext(ctx, &s,
		`SELECT * FROM bet_slips WHERE idempotency_key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("betslip_repo.GetByIdempotencyKey: %w", err)
	}
	return &s, true, nil
}

// BarcodeExists checks whether a generated barcode already exists, used by
// the collision-retry loop in bet placement.
func (r *BetSlipRepository) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM bet_slips WHERE barcode = $1)`, barcode)
	if err != nil {
		return false, fmt.Errorf("betslip_repo.BarcodeExists: %w", err)
	}
	return exists, nil
}

// GetDetailsBySlip returns every card line belonging to a slip.
func (r *BetSlipRepository) GetDetailsBySlip(ctx context.Context, slipID uuid.UUID) ([]domain.BetDetail, error) {
	var details []domain.BetDetail
	err := r.db.SelectContext(ctx, &details,
		`SELECT * FROM bet_details WHERE slip_id = $1 ORDER BY card_number ASC`, slipID)
	if err != nil {
		return nil, fmt.Errorf("betslip_repo.GetDetailsBySlip: %w", err)
	}
	return details, nil
}

// GetDetailsByRoundTx returns every card line for a round inside tx, used
// by the settlement engine to compute per-slip payouts against the chosen
// winning card.
func (r *BetSlipRepository) GetDetailsByRoundTx(ctx context.Context, tx *sqlx.Tx, roundID uuid.UUID) ([]domain.BetDetail, error) {
	var details []domain.BetDetail
	err := tx.SelectContext(ctx, &details,
		`SELECT * FROM bet_details WHERE round_id = $1 ORDER BY slip_id ASC, card_number ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("betslip_repo.GetDetailsByRoundTx: %w", err)
	}
	return details, nil
}

// GetSlipsByRoundTx returns every non-cancelled slip placed against a round
// inside tx.
func (r *BetSlipRepository) GetSlipsByRoundTx(ctx context.Context, tx *sqlx.Tx, roundID uuid.UUID) ([]domain.BetSlip, error) {
	var slips []domain.BetSlip
	err := tx.SelectContext(ctx, &slips,
		`SELECT * FROM bet_slips WHERE round_id = $1 AND cancelled = false ORDER BY created_at ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("betslip_repo.GetSlipsByRoundTx: %w", err)
	}
	return slips, nil
}

// GetByUserID returns a user's slip history, most recent first.
func (r *BetSlipRepository) GetByUserID(ctx context.Context, userID uuid.UUID, page domain.Pagination) ([]domain.BetSlip, error) {
	limit, offset := page.Normalize()
	var slips []domain.BetSlip
	err := r.db.SelectContext(ctx, &slips,
		`SELECT * FROM bet_slips WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("betslip_repo.GetByUserID: %w", err)
	}
	return slips, nil
}

// SettleSlip stamps a slip's outcome inside the settlement transaction.
// Only touches slips still pending to prevent double-settlement.
func (r *BetSlipRepository) SettleSlip(ctx context.Context, tx *sqlx.Tx, slipID uuid.UUID, status domain.SlipStatus, payout decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bet_slips
		SET status = $1, payout_amount = $2, updated_at = now()
		WHERE id = $3 AND status = 'pending'`,
		string(status), payout, slipID)
	if err != nil {
		return fmt.Errorf("betslip_repo.SettleSlip: %w", err)
	}
	return nil
}

// SettleDetail stamps a single bet line's winner flag and payout inside the
// settlement transaction.
func (r *BetSlipRepository) SettleDetail(ctx context.Context, tx *sqlx.Tx, detailID uuid.UUID, isWinner bool, payout decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bet_details SET is_winner = $1, payout = $2 WHERE id = $3`,
		isWinner, payout, detailID)
	if err != nil {
		return fmt.Errorf("betslip_repo.SettleDetail: %w", err)
	}
	return nil
}

// ClaimSlip marks a settled winning slip claimed, guarded by the WHERE
// clause so a duplicate claim request is a no-op rather than a double
// payout (I4). Returns false if the slip was not in a claimable state.
func (r *BetSlipRepository) ClaimSlip(ctx context.Context, tx *sqlx.Tx, slipID uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bet_slips
		SET claimed = true, claimed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'won' AND claimed = false`, slipID)
	if err != nil {
		return false, fmt.Errorf("betslip_repo.ClaimSlip: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelSlip marks a pending slip cancelled and lost, guarded by the WHERE
// clause so only a still-pending, not-yet-cancelled slip can be cancelled.
// The round's state is not checked here.
func (r *BetSlipRepository) CancelSlip(ctx context.Context, tx *sqlx.Tx, slipID uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bet_slips
		SET status = 'lost', cancelled = true, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND cancelled = false`, slipID)
	if err != nil {
		return false, fmt.Errorf("betslip_repo.CancelSlip: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
