// Package service hosts the transactional use cases that sit above the
// repositories: Bet Placement, Settlement, and Claim & Cancel. Placement,
// claim and cancel each own one database transaction; settlement uses a
// gate transaction followed by a settling transaction. All money movement
// is delegated to the ledger package.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/config"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/ledger"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/settings"
	"github.com/kismatx/roundengine/internal/ws"
	"github.com/shopspring/decimal"
)

const barcodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Broadcaster is the subset of the WebSocket hub PlacementService needs to
// notify watchers that a round's card totals changed. Declared here, not
// imported as *ws.Hub, for the same reason scheduler.WsHub is an interface:
// it keeps this package free of a dependency on the hub's concrete type.
type Broadcaster interface {
	BroadcastBetPlaced(msg ws.BetPlacedMessage)
}

// PlacementService implements §4.5 Bet Placement.
type PlacementService struct {
	db       *sqlx.DB
	rounds   *repository.RoundRepository
	slips    *repository.BetSlipRepository
	ledger   *ledger.Ledger
	settings *settings.Cache
	hub      Broadcaster
	cfg      *config.Config
}

// NewPlacementService constructs a PlacementService. hub may be nil, in
// which case bet-placed broadcasts are silently skipped.
func NewPlacementService(
	db *sqlx.DB,
	rounds *repository.RoundRepository,
	slips *repository.BetSlipRepository,
	l *ledger.Ledger,
	sc *settings.Cache,
	hub Broadcaster,
	cfg *config.Config,
) *PlacementService {
	return &PlacementService{db: db, rounds: rounds, slips: slips, ledger: l, settings: sc, hub: hub, cfg: cfg}
}

// PlaceBet validates and commits a bet slip, debiting the placing user's
// wallet for the slip total inside the same transaction. See §4.5.
func (s *PlacementService) PlaceBet(ctx context.Context, userID uuid.UUID, req domain.PlaceBetRequest) (domain.SlipResponse, error) {
	if len(req.Lines) == 0 {
		return domain.SlipResponse{}, domain.ErrValidation
	}

	// Step 1: idempotency-key de-duplication, outside any lock — a prior
	// commit is already visible to a plain read. The key is globally
	// unique, so a hit from a different user is a reused key, not a
	// replay, and is rejected as a conflict rather than handed back.
	if req.IdempotencyKey != "" {
		existing, found, err := s.slips.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return domain.SlipResponse{}, fmt.Errorf("placement.PlaceBet: idempotency lookup: %w", err)
		}
		if found {
			if existing.UserID != userID {
				return domain.SlipResponse{}, domain.ErrIdempotencyMismatch
			}
			details, err := s.slips.GetDetailsBySlip(ctx, existing.ID)
			if err != nil {
				return domain.SlipResponse{}, fmt.Errorf("placement.PlaceBet: load existing details: %w", err)
			}
			return existing.ToResponse(details), nil
		}
	}

	round, err := s.rounds.GetByID(ctx, req.RoundID)
	if err != nil {
		return domain.SlipResponse{}, err
	}

	maxBet := s.settings.GetNumber(ctx, domain.SettingMaxBetAmount, decimal.Zero)

	total := decimal.Zero
	for _, line := range req.Lines {
		if line.CardNumber < 1 || line.CardNumber > round.CardCount {
			return domain.SlipResponse{}, domain.ErrInvalidCard
		}
		if line.BetAmount.Sign() <= 0 {
			return domain.SlipResponse{}, domain.ErrBetTooSmall
		}
		if maxBet.Sign() > 0 && line.BetAmount.GreaterThan(maxBet) {
			return domain.SlipResponse{}, domain.ErrBetTooLarge
		}
		total = total.Add(line.BetAmount)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.SlipResponse{}, fmt.Errorf("placement.PlaceBet: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Step 2: lock the round and re-check it is still open for betting.
	lockedRound, err := s.rounds.LockByID(ctx, tx, req.RoundID)
	if err != nil {
		return domain.SlipResponse{}, err
	}
	now := time.Now().UTC()
	if !lockedRound.IsOpenForBetting(now) {
		err = domain.ErrRoundNotOpen
		return domain.SlipResponse{}, err
	}

	slipID := uuid.New()

	// Step 3: debit the wallet for the whole slip total.
	if _, err = s.ledger.ApplyEntry(ctx, tx, userID, domain.DirectionDebit, total,
		domain.TxGame, domain.RefBetPlacement, slipID, &req.RoundID, "bet placed"); err != nil {
		return domain.SlipResponse{}, err
	}

	// Step 4: generate a collision-free barcode.
	barcode, err := s.generateBarcode(ctx, lockedRound.Code)
	if err != nil {
		return domain.SlipResponse{}, err
	}

	var idemKey *string
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		idemKey = &key
	}

	slip := &domain.BetSlip{
		ID:             slipID,
		UserID:         userID,
		RoundID:        req.RoundID,
		TotalAmount:    total,
		Barcode:        barcode,
		PayoutAmount:   decimal.Zero,
		Status:         domain.SlipPending,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = s.slips.CreateSlip(ctx, tx, slip); err != nil {
		if errors.Is(err, domain.ErrIdempotencyMismatch) && req.IdempotencyKey != "" {
			// Lost a race against a concurrent request carrying the same
			// idempotency key: the deferred rollback above undoes this
			// transaction's wallet debit, then we resolve to whichever
			// slip actually won the insert (§4.5 scenario 4).
			return s.resolveIdempotencyRace(ctx, userID, req.IdempotencyKey, err)
		}
		return domain.SlipResponse{}, err
	}

	details := make([]domain.BetDetail, 0, len(req.Lines))
	for _, line := range req.Lines {
		details = append(details, domain.BetDetail{
			ID:         uuid.New(),
			SlipID:     slipID,
			RoundID:    req.RoundID,
			UserID:     userID,
			CardNumber: line.CardNumber,
			BetAmount:  line.BetAmount,
			Payout:     decimal.Zero,
		})
	}
	if err = s.slips.CreateDetails(ctx, tx, details); err != nil {
		return domain.SlipResponse{}, err
	}

	// Step 5: upsert per-card running totals.
	for _, line := range req.Lines {
		if err = s.rounds.UpsertCardTotal(ctx, tx, req.RoundID, line.CardNumber, line.BetAmount); err != nil {
			return domain.SlipResponse{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.SlipResponse{}, fmt.Errorf("placement.PlaceBet: commit: %w", err)
	}

	if s.hub != nil {
		for _, line := range req.Lines {
			s.hub.BroadcastBetPlaced(ws.BetPlacedMessage{
				Type:       ws.MsgTypeBetPlaced,
				RoundID:    req.RoundID,
				CardNumber: line.CardNumber,
				Amount:     line.BetAmount,
				Timestamp:  now,
			})
		}
	}

	return slip.ToResponse(details), nil
}

// resolveIdempotencyRace re-reads the slip that actually won a concurrent
// insert race on idempotency_key. If it belongs to the requesting user, the
// race was against our own retry and the winner's response is returned as
// if it were our own (both callers converge on the same slip_id). If it
// belongs to someone else, the original conflict error is returned.
func (s *PlacementService) resolveIdempotencyRace(ctx context.Context, userID uuid.UUID, key string, raceErr error) (domain.SlipResponse, error) {
	winner, found, err := s.slips.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return domain.SlipResponse{}, fmt.Errorf("placement.resolveIdempotencyRace: %w", err)
	}
	if !found || winner.UserID != userID {
		return domain.SlipResponse{}, raceErr
	}
	details, err := s.slips.GetDetailsBySlip(ctx, winner.ID)
	if err != nil {
		return domain.SlipResponse{}, fmt.Errorf("placement.resolveIdempotencyRace: load details: %w", err)
	}
	return winner.ToResponse(details), nil
}

// generateBarcode produces an opaque, globally unique slip identifier,
// retrying on collision up to a small bound (§4.5 step 4).
func (s *PlacementService) generateBarcode(ctx context.Context, roundCode string) (string, error) {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := roundCode + "-" + randomToken(6)
		exists, err := s.slips.BarcodeExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("placement.generateBarcode: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", domain.ErrValidation
}

// randomToken draws n characters from barcodeAlphabet using crypto/rand.
func randomToken(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(barcodeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is a hard environment fault; fall back to a
			// fixed character rather than panic on a money-adjacent path.
			b.WriteByte(barcodeAlphabet[0])
			continue
		}
		b.WriteByte(barcodeAlphabet[idx.Int64()])
	}
	return b.String()
}
