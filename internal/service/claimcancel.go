package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/ledger"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/settings"
)

// ClaimCancelService implements §4.6 Claim & Cancel.
type ClaimCancelService struct {
	db       *sqlx.DB
	rounds   *repository.RoundRepository
	slips    *repository.BetSlipRepository
	wallets  *repository.WalletRepository
	ledger   *ledger.Ledger
	settings *settings.Cache
}

// NewClaimCancelService constructs a ClaimCancelService.
func NewClaimCancelService(
	db *sqlx.DB,
	rounds *repository.RoundRepository,
	slips *repository.BetSlipRepository,
	wallets *repository.WalletRepository,
	l *ledger.Ledger,
	sc *settings.Cache,
) *ClaimCancelService {
	return &ClaimCancelService{db: db, rounds: rounds, slips: slips, wallets: wallets, ledger: l, settings: sc}
}

// Claim credits a won slip's payout to its owner's wallet and marks it
// claimed. identifier is either the slip's UUID or its barcode.
func (s *ClaimCancelService) Claim(ctx context.Context, userID uuid.UUID, identifier string) (result domain.ClaimResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claimcancel.Claim: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	slipID, lookupErr := s.resolveSlipID(ctx, identifier)
	if lookupErr != nil {
		err = lookupErr
		return domain.ClaimResult{}, err
	}

	slip, lockErr := s.slips.LockSlipByID(ctx, tx, slipID)
	if lockErr != nil {
		err = lockErr
		return domain.ClaimResult{}, err
	}
	if slip.UserID != userID {
		err = domain.ErrForbidden
		return domain.ClaimResult{}, err
	}
	if slip.Claimed {
		err = domain.ErrSlipAlreadyClaimed
		return domain.ClaimResult{}, err
	}
	if slip.Status != domain.SlipWon {
		err = domain.ErrSlipNotWinning
		return domain.ClaimResult{}, err
	}

	if _, err = s.ledger.ApplyEntry(ctx, tx, userID, domain.DirectionCredit, slip.PayoutAmount,
		domain.TxGame, domain.RefClaim, slip.ID, &slip.RoundID, "slip claimed"); err != nil {
		return domain.ClaimResult{}, err
	}

	claimed, claimErr := s.slips.ClaimSlip(ctx, tx, slip.ID)
	if claimErr != nil {
		err = claimErr
		return domain.ClaimResult{}, err
	}
	if !claimed {
		// Lost the race between the lock read above and this guarded update —
		// another concurrent claim already won it.
		err = domain.ErrSlipAlreadyClaimed
		return domain.ClaimResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claimcancel.Claim: commit: %w", err)
	}

	wallet, walletErr := s.wallets.GetByUserID(ctx, userID)
	if walletErr != nil {
		return domain.ClaimResult{}, fmt.Errorf("claimcancel.Claim: post-commit balance read: %w", walletErr)
	}

	return domain.ClaimResult{Amount: slip.PayoutAmount, NewBalance: wallet.Balance}, nil
}

// Cancel refunds a still-pending slip back to its owner before its round
// closes, subject to the configured cutoff grace period.
func (s *ClaimCancelService) Cancel(ctx context.Context, userID uuid.UUID, slipID uuid.UUID) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("claimcancel.Cancel: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	slip, lockErr := s.slips.LockSlipByID(ctx, tx, slipID)
	if lockErr != nil {
		err = lockErr
		return err
	}
	if slip.UserID != userID {
		err = domain.ErrForbidden
		return err
	}
	if slip.Status != domain.SlipPending || slip.Cancelled {
		err = domain.ErrSlipNotCancellable
		return err
	}

	round, roundErr := s.rounds.LockByID(ctx, tx, slip.RoundID)
	if roundErr != nil {
		err = roundErr
		return err
	}
	if round.Lifecycle != domain.RoundActive {
		err = domain.ErrSlipNotCancellable
		return err
	}

	cutoff := s.settings.GetInt(ctx, domain.SettingCancelCutoffSeconds, 0)
	deadline := round.EndAt.Add(-time.Duration(cutoff) * time.Second)
	if !time.Now().UTC().Before(deadline) {
		err = domain.ErrSlipNotCancellable
		return err
	}

	if _, err = s.ledger.ApplyEntry(ctx, tx, userID, domain.DirectionCredit, slip.TotalAmount,
		domain.TxGame, domain.RefCancelRefund, slip.ID, &slip.RoundID, "slip cancelled"); err != nil {
		return err
	}

	details, detErr := s.slips.GetDetailsBySlip(ctx, slip.ID)
	if detErr != nil {
		err = detErr
		return err
	}
	for _, d := range details {
		if err = s.rounds.UpsertCardTotal(ctx, tx, slip.RoundID, d.CardNumber, d.BetAmount.Neg()); err != nil {
			return err
		}
	}

	cancelled, cancelErr := s.slips.CancelSlip(ctx, tx, slip.ID)
	if cancelErr != nil {
		err = cancelErr
		return err
	}
	if !cancelled {
		err = domain.ErrSlipNotCancellable
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("claimcancel.Cancel: commit: %w", err)
	}
	return nil
}

// resolveSlipID accepts either a slip UUID or a barcode, per §4.6's
// identifier parameter.
func (s *ClaimCancelService) resolveSlipID(ctx context.Context, identifier string) (uuid.UUID, error) {
	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		return id, nil
	}
	slip, err := s.slips.GetSlipByBarcode(ctx, identifier)
	if err != nil {
		return uuid.UUID{}, err
	}
	return slip.ID, nil
}
