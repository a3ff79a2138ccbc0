package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/cardgame"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/ledger"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/settings"
	"github.com/shopspring/decimal"
)

// SettleOptions mirrors §4.4's settleRound(roundId, opts) signature.
type SettleOptions struct {
	WinningCard *int
	Initiator   domain.SettlementInitiator
}

// SettlementService implements §4.4 Settlement Engine.
type SettlementService struct {
	db       *sqlx.DB
	rounds   *repository.RoundRepository
	slips    *repository.BetSlipRepository
	ledger   *ledger.Ledger
	settings *settings.Cache
	logger   *slog.Logger
}

// NewSettlementService constructs a SettlementService.
func NewSettlementService(
	db *sqlx.DB,
	rounds *repository.RoundRepository,
	slips *repository.BetSlipRepository,
	l *ledger.Ledger,
	sc *settings.Cache,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{db: db, rounds: rounds, slips: slips, ledger: l, settings: sc, logger: logger}
}

// SettleRound runs the eight-step settlement algorithm for a single round.
// Safe to call concurrently from the scheduler's primary tick, its sweep,
// and an admin request — the gate in step 1 makes every caller but one a
// no-op or a SETTLEMENT_IN_PROGRESS error.
func (s *SettlementService) SettleRound(ctx context.Context, roundID uuid.UUID, opts SettleOptions) (domain.SettlementReport, error) {
	// Step 1 + 2: gate and mark settling, committed on its own so concurrent
	// callers observe "settling" immediately.
	gateReport, alreadyDone, err := s.beginSettlement(ctx, roundID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	if alreadyDone {
		return gateReport, nil
	}

	report, settleErr := s.runSettlementTx(ctx, roundID, opts)
	if settleErr != nil {
		if errIsAwaitingManual(settleErr) {
			// Step 4: revert to not_settled, already done inside runSettlementTx.
			return domain.SettlementReport{}, settleErr
		}
		if failErr := s.rounds.FailSettlement(ctx, roundID, settleErr.Error()); failErr != nil {
			s.logger.Error("settlement.SettleRound: failed to stamp failure", "round_id", roundID, "err", failErr)
		}
		return domain.SettlementReport{}, fmt.Errorf("settlement.SettleRound: %w", settleErr)
	}
	return report, nil
}

// beginSettlement performs step 1 (load with lock, idempotent no-op check,
// lifecycle check) and step 2 (mark settling) in a short transaction of its
// own.
func (s *SettlementService) beginSettlement(ctx context.Context, roundID uuid.UUID) (domain.SettlementReport, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.SettlementReport{}, false, fmt.Errorf("settlement.beginSettlement: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	round, err := s.rounds.LockByID(ctx, tx, roundID)
	if err != nil {
		return domain.SettlementReport{}, false, err
	}

	switch round.SettlementStatus {
	case domain.SettlementSettled:
		report := settlementReportFromRound(round)
		report.AlreadyDone = true
		_ = tx.Rollback()
		return report, true, nil
	case domain.SettlementSettling:
		err = domain.ErrSettlementInProgress
		return domain.SettlementReport{}, false, err
	case domain.SettlementFailed:
		// Recovery/admin re-entry: fall through and retry from not_settled.
		if err = s.rounds.RevertToNotSettled(ctx, tx, roundID); err != nil {
			return domain.SettlementReport{}, false, err
		}
	}

	if !round.ReadyForSettlement() {
		err = domain.ErrRoundNotOpen
		return domain.SettlementReport{}, false, err
	}

	if err = s.rounds.BeginSettling(ctx, tx, roundID, time.Now().UTC()); err != nil {
		return domain.SettlementReport{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return domain.SettlementReport{}, false, fmt.Errorf("settlement.beginSettlement: commit: %w", err)
	}
	return domain.SettlementReport{}, false, nil
}

// runSettlementTx performs steps 3-8 inside a fresh transaction.
func (s *SettlementService) runSettlementTx(ctx context.Context, roundID uuid.UUID, opts SettleOptions) (domain.SettlementReport, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement.runSettlementTx: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	round, err := s.rounds.LockByID(ctx, tx, roundID)
	if err != nil {
		return domain.SettlementReport{}, err
	}

	// Step 3: load slips, details, and per-card totals for a consistent
	// snapshot.
	slips, err := s.slips.GetSlipsByRoundTx(ctx, tx, roundID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	details, err := s.slips.GetDetailsByRoundTx(ctx, tx, roundID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	cardTotals, err := s.rounds.CardTotalsTx(ctx, tx, roundID)
	if err != nil {
		return domain.SettlementReport{}, err
	}

	// Step 4: determine the winning card.
	winningCard, err := s.resolveWinningCard(ctx, round, cardTotals, opts)
	if err != nil {
		if errIsAwaitingManual(err) {
			if revertErr := s.rounds.RevertToNotSettled(ctx, tx, roundID); revertErr != nil {
				return domain.SettlementReport{}, revertErr
			}
			if commitErr := tx.Commit(); commitErr != nil {
				return domain.SettlementReport{}, fmt.Errorf("settlement.runSettlementTx: revert commit: %w", commitErr)
			}
			err = nil // already committed the revert cleanly
			return domain.SettlementReport{}, domain.ErrAwaitingManual
		}
		return domain.SettlementReport{}, err
	}

	// Step 5: compute per-detail and per-slip outcomes.
	bySlip := make(map[uuid.UUID][]domain.BetDetail, len(slips))
	for _, d := range details {
		bySlip[d.SlipID] = append(bySlip[d.SlipID], d)
	}

	report := domain.SettlementReport{RoundID: roundID, WinningCard: winningCard}
	autoClaim := s.settings.GetBoolean(ctx, domain.SettingAutoClaim, false)

	for i := range slips {
		slip := &slips[i]
		slipDetails := bySlip[slip.ID]
		slipPayout := decimal.Zero
		isWinner := false

		for _, d := range slipDetails {
			report.TotalStaked = report.TotalStaked.Add(d.BetAmount)
			won := d.CardNumber == winningCard
			payout := decimal.Zero
			if won {
				isWinner = true
				payout = d.BetAmount.Mul(round.PayoutMultiplier)
			}
			if err = s.slips.SettleDetail(ctx, tx, d.ID, won, payout); err != nil {
				return domain.SettlementReport{}, err
			}
			slipPayout = slipPayout.Add(payout)
		}

		status := domain.SlipLost
		if isWinner {
			status = domain.SlipWon
			report.WinningSlips++
			report.TotalPayout = report.TotalPayout.Add(slipPayout)
		} else {
			report.LosingSlips++
		}
		if err = s.slips.SettleSlip(ctx, tx, slip.ID, status, slipPayout); err != nil {
			return domain.SettlementReport{}, err
		}

		// Step 7: auto-claim credits the winner directly.
		if isWinner && autoClaim && slipPayout.Sign() > 0 {
			if _, err = s.ledger.ApplyEntry(ctx, tx, slip.UserID, domain.DirectionCredit, slipPayout,
				domain.TxGame, domain.RefSettlement, slip.ID, &roundID, "round settled, auto-claimed"); err != nil {
				return domain.SettlementReport{}, err
			}
			if _, err = s.slips.ClaimSlip(ctx, tx, slip.ID); err != nil {
				return domain.SettlementReport{}, err
			}
		}
	}

	report.HouseProfit = report.TotalStaked.Sub(report.TotalPayout)

	// Step 6: persist the round's winning card and settled status.
	completedAt := time.Now().UTC()
	if err = s.rounds.CompleteSettlement(ctx, tx, roundID, winningCard, completedAt); err != nil {
		return domain.SettlementReport{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement.runSettlementTx: commit: %w", err)
	}

	s.logger.Info("round settled",
		"round_id", roundID, "winning_card", winningCard,
		"winning_slips", report.WinningSlips, "losing_slips", report.LosingSlips,
		"house_profit", report.HouseProfit.StringFixed(2), "initiator", opts.Initiator)

	return report, nil
}

// resolveWinningCard implements step 4: an admin-supplied card wins,
// otherwise a manual game falls through to AWAITING_MANUAL, otherwise the
// selector runs against accumulated totals.
func (s *SettlementService) resolveWinningCard(ctx context.Context, round *domain.Round, cardTotals []domain.RoundCardTotal, opts SettleOptions) (int, error) {
	if opts.WinningCard != nil {
		if *opts.WinningCard < 1 || *opts.WinningCard > round.CardCount {
			return 0, domain.ErrInvalidCard
		}
		return *opts.WinningCard, nil
	}

	resultType := domain.GameResultType(s.settings.GetString(ctx, domain.SettingGameResultType, string(domain.GameResultManual)))
	if resultType == domain.GameResultManual {
		return 0, domain.ErrAwaitingManual
	}

	bets := make(map[int]decimal.Decimal, len(cardTotals))
	for _, t := range cardTotals {
		bets[t.CardNumber] = t.Total
	}
	policy := domain.WinningCardPolicy(s.settings.GetString(ctx, domain.SettingWinningCardPolicy, string(domain.PolicyLowestLoss)))
	fixedCard := s.settings.GetInt(ctx, domain.SettingFixedWinningCard, 0)

	return cardgame.SelectWinningCard(bets, round.PayoutMultiplier, policy, round.CardCount, fixedCard)
}

// PreviewSettlement answers "what would each card pay out right now"
// without mutating anything — the admin settlement-preview endpoint.
func (s *SettlementService) PreviewSettlement(ctx context.Context, roundID uuid.UUID) (domain.SettlementPreview, error) {
	round, err := s.rounds.GetByID(ctx, roundID)
	if err != nil {
		return domain.SettlementPreview{}, err
	}
	totals, err := s.rounds.CardTotals(ctx, roundID)
	if err != nil {
		return domain.SettlementPreview{}, err
	}
	byCard := make(map[int]decimal.Decimal, len(totals))
	totalWagered := decimal.Zero
	for _, t := range totals {
		byCard[t.CardNumber] = t.Total
		totalWagered = totalWagered.Add(t.Total)
	}

	preview := domain.SettlementPreview{RoundID: roundID}
	for c := 1; c <= round.CardCount; c++ {
		stake := byCard[c]
		expectedPayout := stake.Mul(round.PayoutMultiplier)
		preview.Cards = append(preview.Cards, domain.CardSettlementRow{
			CardNumber:     c,
			TotalStaked:    stake,
			ExpectedPayout: expectedPayout,
			ExpectedProfit: cardgame.ExpectedProfit(totalWagered, stake, round.PayoutMultiplier),
		})
	}
	return preview, nil
}

func settlementReportFromRound(round *domain.Round) domain.SettlementReport {
	report := domain.SettlementReport{RoundID: round.ID}
	if round.WinningCard != nil {
		report.WinningCard = *round.WinningCard
	}
	return report
}

func errIsAwaitingManual(err error) bool {
	return domain.IsAwaitingManual(err)
}
