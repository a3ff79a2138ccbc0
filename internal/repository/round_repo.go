package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// RoundRepository is the typed data-access layer for Round.
type RoundRepository struct {
	db *sqlx.DB
}

// NewRoundRepository constructs a RoundRepository.
func NewRoundRepository(db *sqlx.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// Create inserts a new round row in lifecycle=pending, settlement_status=not_settled.
func (r *RoundRepository) Create(ctx context.Context, round *domain.Round) error {
	query := `
		INSERT INTO rounds
			(id, round_code, start_at, end_at, lifecycle, settlement_status,
			 winning_card, payout_multiplier, card_count,
			 settlement_started_at, settlement_completed_at, settlement_error,
			 created_at, updated_at)
		VALUES
			(:id, :round_code, :start_at, :end_at, :lifecycle, :settlement_status,
			 :winning_card, :payout_multiplier, :card_count,
			 :settlement_started_at, :settlement_completed_at, :settlement_error,
			 :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, round); err != nil {
		return fmt.Errorf("round_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a round by its surrogate key (non-locking).
func (r *RoundRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Round, error) {
	var round domain.Round
	err := r.db.GetContext(ctx, &round, `SELECT * FROM rounds WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoundNotFound
		}
		return nil, fmt.Errorf("round_repo.GetByID: %w", err)
	}
	return &round, nil
}

// LockByID fetches a round by its surrogate key, holding a row lock for the
// lifetime of tx. Every lifecycle or settlement transition goes through
// this first.
func (r *RoundRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Round, error) {
	var round domain.Round
	err := tx.GetContext(ctx, &round, `SELECT * FROM rounds WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoundNotFound
		}
		return nil, fmt.Errorf("round_repo.LockByID: %w", err)
	}
	return &round, nil
}

// GetCurrent returns the single round currently pending or active, most
// recently started first. Returns ErrNoActiveRound when none exists.
func (r *RoundRepository) GetCurrent(ctx context.Context) (*domain.Round, error) {
	var round domain.Round
	err := r.db.GetContext(ctx, &round,
		`SELECT * FROM rounds WHERE lifecycle IN ('pending','active') ORDER BY start_at DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoActiveRound
		}
		return nil, fmt.Errorf("round_repo.GetCurrent: %w", err)
	}
	return &round, nil
}

// GetPrevious returns the most recently settled round.
func (r *RoundRepository) GetPrevious(ctx context.Context) (*domain.Round, error) {
	var round domain.Round
	err := r.db.GetContext(ctx, &round,
		`SELECT * FROM rounds WHERE settlement_status = 'settled' ORDER BY end_at DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoundNotFound
		}
		return nil, fmt.Errorf("round_repo.GetPrevious: %w", err)
	}
	return &round, nil
}

// TransitionLifecycle moves a round's lifecycle field forward, guarded by a
// WHERE clause on the expected current state so a stale caller's update is
// silently a no-op rather than a backwards transition (I5).
func (r *RoundRepository) TransitionLifecycle(ctx context.Context, id uuid.UUID, from, to domain.RoundLifecycle) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rounds SET lifecycle = $1, updated_at = now() WHERE id = $2 AND lifecycle = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("round_repo.TransitionLifecycle: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BeginSettling stamps settlement_status=settling and settlement_started_at,
// guarded on the caller already holding the row lock from LockByID and
// having checked settlement_status == not_settled. Step 2 of §4.4.
func (r *RoundRepository) BeginSettling(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, startedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE rounds SET settlement_status = 'settling', settlement_started_at = $1, updated_at = now()
		 WHERE id = $2 AND settlement_status = 'not_settled'`,
		startedAt, id)
	if err != nil {
		return fmt.Errorf("round_repo.BeginSettling: %w", err)
	}
	return nil
}

// RevertToNotSettled undoes BeginSettling, used when manual settlement is
// required and no winning card was supplied (§4.4 step 4), and to reset a
// failed settlement before it is re-entered.
func (r *RoundRepository) RevertToNotSettled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE rounds SET settlement_status = 'not_settled', settlement_started_at = NULL, updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("round_repo.RevertToNotSettled: %w", err)
	}
	return nil
}

// CompleteSettlement stamps the round settled with its winning card. Step 6
// of §4.4.
func (r *RoundRepository) CompleteSettlement(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, winningCard int, completedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rounds
		SET winning_card = $1,
		    settlement_status = 'settled',
		    settlement_completed_at = $2,
		    settlement_error = NULL,
		    updated_at = now()
		WHERE id = $3`, winningCard, completedAt, id)
	if err != nil {
		return fmt.Errorf("round_repo.CompleteSettlement: %w", err)
	}
	return nil
}

// FailSettlement stamps settlement_status=failed with the error string.
// Called from a fresh transaction after the settling one has rolled back,
// since a rolled-back transaction cannot also persist the failure marker.
func (r *RoundRepository) FailSettlement(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rounds
		SET settlement_status = 'failed', settlement_error = $1, updated_at = now()
		WHERE id = $2`, reason, id)
	if err != nil {
		return fmt.Errorf("round_repo.FailSettlement: %w", err)
	}
	return nil
}

// ResetStuckSettlement reverts a round parked at settlement_status=settling
// back to not_settled outside of any caller transaction, used by the
// scheduler's recovery path to unstick a round whose settling process
// crashed mid-transaction and never reached FailSettlement.
func (r *RoundRepository) ResetStuckSettlement(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rounds SET settlement_status = 'not_settled', settlement_started_at = NULL, updated_at = now()
		WHERE id = $1 AND settlement_status = 'settling'`, id)
	if err != nil {
		return fmt.Errorf("round_repo.ResetStuckSettlement: %w", err)
	}
	return nil
}

// CompletedAwaitingSettlement returns rounds stuck at lifecycle=completed,
// settlement_status=not_settled older than the configured grace — the
// periodic redundant sweep trigger in §4.7.
func (r *RoundRepository) CompletedAwaitingSettlement(ctx context.Context, olderThan time.Time) ([]domain.Round, error) {
	var rounds []domain.Round
	err := r.db.SelectContext(ctx, &rounds, `
		SELECT * FROM rounds
		WHERE lifecycle = 'completed' AND settlement_status = 'not_settled' AND end_at <= $1
		ORDER BY end_at ASC`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("round_repo.CompletedAwaitingSettlement: %w", err)
	}
	return rounds, nil
}

// ExpiredStillActive returns rounds whose end_at has passed but which have
// not yet transitioned to completed — used both by the primary tick and by
// startup recovery.
func (r *RoundRepository) ExpiredStillActive(ctx context.Context, now time.Time) ([]domain.Round, error) {
	var rounds []domain.Round
	err := r.db.SelectContext(ctx, &rounds, `
		SELECT * FROM rounds WHERE end_at <= $1 AND lifecycle != 'completed'
		ORDER BY end_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("round_repo.ExpiredStillActive: %w", err)
	}
	return rounds, nil
}

// DueToActivate returns pending rounds whose start_at has arrived.
func (r *RoundRepository) DueToActivate(ctx context.Context, now time.Time) ([]domain.Round, error) {
	var rounds []domain.Round
	err := r.db.SelectContext(ctx, &rounds, `
		SELECT * FROM rounds WHERE lifecycle = 'pending' AND start_at <= $1 AND end_at >= $1
		ORDER BY start_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("round_repo.DueToActivate: %w", err)
	}
	return rounds, nil
}

// StuckSettling returns rounds parked at settlement_status=settling whose
// settlement_started_at is older than the stuck threshold — recovery logic
// in §4.7 reverts these to not_settled.
func (r *RoundRepository) StuckSettling(ctx context.Context, olderThan time.Time) ([]domain.Round, error) {
	var rounds []domain.Round
	err := r.db.SelectContext(ctx, &rounds, `
		SELECT * FROM rounds
		WHERE settlement_status = 'settling' AND settlement_started_at <= $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("round_repo.StuckSettling: %w", err)
	}
	return rounds, nil
}

// FailedSettlements returns rounds parked at settlement_status=failed — the
// recovery sweep in §4.7 resets these back to not_settled so the next
// settlement attempt can retry them.
func (r *RoundRepository) FailedSettlements(ctx context.Context) ([]domain.Round, error) {
	var rounds []domain.Round
	err := r.db.SelectContext(ctx, &rounds, `
		SELECT * FROM rounds WHERE settlement_status = 'failed' ORDER BY end_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("round_repo.FailedSettlements: %w", err)
	}
	return rounds, nil
}

// ResetFailedSettlement reverts a round parked at settlement_status=failed
// back to not_settled, guarded so it only fires from that exact state,
// clearing settlement_error so a stale reason doesn't linger past a
// successful retry.
func (r *RoundRepository) ResetFailedSettlement(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rounds
		SET settlement_status = 'not_settled', settlement_started_at = NULL, settlement_error = NULL, updated_at = now()
		WHERE id = $1 AND settlement_status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("round_repo.ResetFailedSettlement: %w", err)
	}
	return nil
}

// ── Round card totals ─────────────────────────────────────────────────────

// UpsertCardTotal adds delta (positive or negative) to a round's running
// per-card total, inside tx. Used by Bet Placement (positive) and Cancel
// (negative).
func (r *RoundRepository) UpsertCardTotal(ctx context.Context, tx *sqlx.Tx, roundID uuid.UUID, cardNumber int, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO round_card_totals (round_id, card_number, total)
		VALUES ($1, $2, $3)
		ON CONFLICT (round_id, card_number) DO UPDATE
		SET total = round_card_totals.total + EXCLUDED.total`,
		roundID, cardNumber, delta)
	if err != nil {
		return fmt.Errorf("round_repo.UpsertCardTotal: %w", err)
	}
	return nil
}

// CardTotals returns every per-card total row for a round.
func (r *RoundRepository) CardTotals(ctx context.Context, roundID uuid.UUID) ([]domain.RoundCardTotal, error) {
	var totals []domain.RoundCardTotal
	err := r.db.SelectContext(ctx, &totals,
		`SELECT round_id, card_number, total FROM round_card_totals WHERE round_id = $1 ORDER BY card_number ASC`,
		roundID)
	if err != nil {
		return nil, fmt.Errorf("round_repo.CardTotals: %w", err)
	}
	return totals, nil
}

// CardTotalsTx is the same read, issued inside tx so the settlement
// transaction observes a consistent snapshot together with the slip load.
func (r *RoundRepository) CardTotalsTx(ctx context.Context, tx *sqlx.Tx, roundID uuid.UUID) ([]domain.RoundCardTotal, error) {
	var totals []domain.RoundCardTotal
	err := tx.SelectContext(ctx, &totals,
		`SELECT round_id, card_number, total FROM round_card_totals WHERE round_id = $1 ORDER BY card_number ASC`,
		roundID)
	if err != nil {
		return nil, fmt.Errorf("round_repo.CardTotalsTx: %w", err)
	}
	return totals, nil
}
