// Package scheduler drives the round lifecycle state machine:
//  1. roundCreationLoop   – opens the next pending round on each duration
//     boundary, inside the configured operating window.
//  2. lifecycleTickLoop   – advances pending→active→completed and fires the
//     primary end-time settlement trigger.
//  3. settlementSweepLoop – the redundant periodic sweep that catches any
//     round the primary trigger missed.
//
// startupRecovery runs once before the loops start, closing the gap a crash
// or deploy might have left: rounds stuck active past end_time, rounds
// stuck settling, and pending rounds due to activate.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kismatx/roundengine/internal/config"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/service"
	"github.com/kismatx/roundengine/internal/settings"
	"github.com/kismatx/roundengine/internal/ws"
	"github.com/shopspring/decimal"
)

// WsHub defines the broadcast operations the Scheduler needs from the
// WebSocket hub. Declared here so this package does not import ws/hub.go's
// implementation and cause a circular dependency.
type WsHub interface {
	BroadcastRoundOpened(msg ws.RoundOpenedMessage)
	BroadcastRoundClosed(msg ws.RoundClosedMessage)
	BroadcastRoundSettled(msg ws.RoundSettledMessage)
}

// Scheduler wires together the round repository and settlement service and
// runs the three lifecycle goroutines. Call Start(ctx) once from main();
// cancel the context to shut it down gracefully.
type Scheduler struct {
	rounds     *repository.RoundRepository
	settlement *service.SettlementService
	settings   *settings.Cache
	hub        WsHub
	cfg        *config.Config
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	rounds *repository.RoundRepository,
	settlement *service.SettlementService,
	sc *settings.Cache,
	hub WsHub,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{rounds: rounds, settlement: settlement, settings: sc, hub: hub, cfg: cfg, logger: logger}
}

// Start runs recovery once, then launches the three background goroutines.
// It returns immediately; all loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.startupRecovery(ctx)

	go s.roundCreationLoop(ctx)
	go s.lifecycleTickLoop(ctx)
	go s.settlementSweepLoop(ctx)
	s.logger.Info("scheduler started")
}

// ──────────────────────────────────────────────────────────────────────────────
// startupRecovery
// ──────────────────────────────────────────────────────────────────────────────

// startupRecovery closes the four gaps a crash or redeploy can leave: rounds
// still active past end_time, rounds stuck settling past the stuck
// threshold, pending rounds whose start_time has already arrived, and no
// pending/active round existing at all.
func (s *Scheduler) startupRecovery(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.rounds.ExpiredStillActive(ctx, now)
	if err != nil {
		s.logger.Error("startupRecovery: ExpiredStillActive", "err", err)
	}
	for _, r := range expired {
		s.completeRound(ctx, r.ID)
	}

	stuck, err := s.rounds.StuckSettling(ctx, now.Add(-s.cfg.Game.StuckSettlingThreshold))
	if err != nil {
		s.logger.Error("startupRecovery: StuckSettling", "err", err)
	}
	for _, r := range stuck {
		s.logger.Warn("startupRecovery: reverting stuck settlement", "round_id", r.ID)
		if revertErr := s.rounds.ResetStuckSettlement(ctx, r.ID); revertErr != nil {
			s.logger.Error("startupRecovery: ResetStuckSettlement", "round_id", r.ID, "err", revertErr)
			continue
		}
		s.settleRound(ctx, r.ID, domain.InitiatorRecovery)
	}

	due, err := s.rounds.DueToActivate(ctx, now)
	if err != nil {
		s.logger.Error("startupRecovery: DueToActivate", "err", err)
	}
	for _, r := range due {
		s.activateRound(ctx, r.ID)
	}

	if _, err := s.rounds.GetCurrent(ctx); err != nil {
		if errIsNoActiveRound(err) {
			s.createNextRound(ctx)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// roundCreationLoop
// ──────────────────────────────────────────────────────────────────────────────

// roundCreationLoop ensures a pending or active round exists, aligned to the
// configured duration boundary, unless the operating window is closed.
func (s *Scheduler) roundCreationLoop(ctx context.Context) {
	defer s.recoverAndLog("roundCreationLoop")

	ticker := time.NewTicker(s.cfg.Game.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("roundCreationLoop: shutting down")
			return
		case <-ticker.C:
			if _, err := s.rounds.GetCurrent(ctx); err != nil {
				if errIsNoActiveRound(err) {
					s.createNextRound(ctx)
				} else {
					s.logger.Error("roundCreationLoop: GetCurrent", "err", err)
				}
			}
		}
	}
}

// createNextRound opens the next round aligned to the configured duration,
// but only while the operating window is open — outside it, the scheduler
// holds without creating new pending rounds (§4.7).
func (s *Scheduler) createNextRound(ctx context.Context) {
	now := time.Now().UTC()

	start := s.settings.GetString(ctx, domain.SettingOperatingWindowStart, "00:00")
	end := s.settings.GetString(ctx, domain.SettingOperatingWindowEnd, "23:59")
	if !domain.IsWithinOperatingWindow(now, start, end) {
		return
	}

	durationSeconds := s.settings.GetInt(ctx, domain.SettingRoundDurationSeconds, s.cfg.Game.DefaultRoundDurationSeconds)
	duration := time.Duration(durationSeconds) * time.Second
	startAt := now.Truncate(duration)
	if !startAt.After(now) {
		startAt = startAt.Add(duration)
	}

	multiplier := s.settings.GetNumber(ctx, domain.SettingPayoutMultiplier, decimal.NewFromFloat(s.cfg.Game.DefaultPayoutMultiplier))
	cardCount := s.settings.GetInt(ctx, domain.SettingCardCount, s.cfg.Game.DefaultCardCount)

	round := &domain.Round{
		ID:               uuid.New(),
		Code:             domain.RoundCode(startAt),
		StartAt:          startAt,
		EndAt:            startAt.Add(duration),
		Lifecycle:        domain.RoundPending,
		SettlementStatus: domain.SettlementNotSettled,
		PayoutMultiplier: multiplier,
		CardCount:        cardCount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.rounds.Create(ctx, round); err != nil {
		s.logger.Error("createNextRound: Create", "err", err)
		return
	}
	s.logger.Info("round created", "round_id", round.ID, "code", round.Code, "start_at", round.StartAt)
}

// ──────────────────────────────────────────────────────────────────────────────
// lifecycleTickLoop
// ──────────────────────────────────────────────────────────────────────────────

// lifecycleTickLoop activates pending rounds whose start_time has arrived,
// completes active rounds whose end_time has passed, and fires the primary
// settlement trigger for rounds that just completed.
func (s *Scheduler) lifecycleTickLoop(ctx context.Context) {
	defer s.recoverAndLog("lifecycleTickLoop")

	ticker := time.NewTicker(s.cfg.Game.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycleTickLoop: shutting down")
			return
		case <-ticker.C:
			now := time.Now().UTC()

			due, err := s.rounds.DueToActivate(ctx, now)
			if err != nil {
				s.logger.Error("lifecycleTickLoop: DueToActivate", "err", err)
			}
			for _, r := range due {
				s.activateRound(ctx, r.ID)
			}

			expired, err := s.rounds.ExpiredStillActive(ctx, now)
			if err != nil {
				s.logger.Error("lifecycleTickLoop: ExpiredStillActive", "err", err)
			}
			for _, r := range expired {
				if s.completeRound(ctx, r.ID) {
					s.settleRound(ctx, r.ID, domain.InitiatorScheduler)
				}
			}
		}
	}
}

func (s *Scheduler) activateRound(ctx context.Context, id uuid.UUID) {
	ok, err := s.rounds.TransitionLifecycle(ctx, id, domain.RoundPending, domain.RoundActive)
	if err != nil {
		s.logger.Error("activateRound: TransitionLifecycle", "round_id", id, "err", err)
		return
	}
	if !ok {
		return
	}
	if s.hub != nil {
		round, getErr := s.rounds.GetByID(ctx, id)
		if getErr == nil {
			s.hub.BroadcastRoundOpened(ws.RoundOpenedMessage{
				Type:             ws.MsgTypeRoundOpened,
				RoundID:          round.ID,
				RoundCode:        round.Code,
				StartAt:          round.StartAt,
				EndAt:            round.EndAt,
				CardCount:        round.CardCount,
				PayoutMultiplier: round.PayoutMultiplier,
				Timestamp:        time.Now().UTC(),
			})
		}
	}
	s.logger.Info("round activated", "round_id", id)
}

// completeRound transitions active → completed and returns whether this
// caller actually made that transition happen.
func (s *Scheduler) completeRound(ctx context.Context, id uuid.UUID) bool {
	ok, err := s.rounds.TransitionLifecycle(ctx, id, domain.RoundActive, domain.RoundCompleted)
	if err != nil {
		s.logger.Error("completeRound: TransitionLifecycle", "round_id", id, "err", err)
		return false
	}
	if ok && s.hub != nil {
		s.hub.BroadcastRoundClosed(ws.RoundClosedMessage{
			Type:      ws.MsgTypeRoundClosed,
			RoundID:   id,
			Timestamp: time.Now().UTC(),
		})
	}
	return ok
}

// ──────────────────────────────────────────────────────────────────────────────
// settlementSweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// settlementSweepLoop is the redundant periodic trigger: any round sitting
// at completed/not_settled for longer than the configured grace gets another
// settlement attempt, independent of whether the primary trigger already
// tried and failed.
func (s *Scheduler) settlementSweepLoop(ctx context.Context) {
	defer s.recoverAndLog("settlementSweepLoop")

	ticker := time.NewTicker(s.cfg.Game.SweepGrace)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlementSweepLoop: shutting down")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.Game.SweepGrace)
			rounds, err := s.rounds.CompletedAwaitingSettlement(ctx, cutoff)
			if err != nil {
				s.logger.Error("settlementSweepLoop: CompletedAwaitingSettlement", "err", err)
				continue
			}
			for _, r := range rounds {
				s.settleRound(ctx, r.ID, domain.InitiatorAlarm)
			}

			stuck, err := s.rounds.StuckSettling(ctx, time.Now().UTC().Add(-s.cfg.Game.StuckSettlingThreshold))
			if err != nil {
				s.logger.Error("settlementSweepLoop: StuckSettling", "err", err)
				continue
			}
			for _, r := range stuck {
				s.logger.Warn("settlementSweepLoop: re-attempting stuck settlement", "round_id", r.ID)
				if revertErr := s.rounds.ResetStuckSettlement(ctx, r.ID); revertErr != nil {
					s.logger.Error("settlementSweepLoop: ResetStuckSettlement", "round_id", r.ID, "err", revertErr)
					continue
				}
				s.settleRound(ctx, r.ID, domain.InitiatorRecovery)
			}

			failed, err := s.rounds.FailedSettlements(ctx)
			if err != nil {
				s.logger.Error("settlementSweepLoop: FailedSettlements", "err", err)
				continue
			}
			for _, r := range failed {
				s.logger.Warn("settlementSweepLoop: retrying failed settlement", "round_id", r.ID)
				if resetErr := s.rounds.ResetFailedSettlement(ctx, r.ID); resetErr != nil {
					s.logger.Error("settlementSweepLoop: ResetFailedSettlement", "round_id", r.ID, "err", resetErr)
					continue
				}
				s.settleRound(ctx, r.ID, domain.InitiatorRecovery)
			}
		}
	}
}

// settleRound invokes the settlement engine and broadcasts the result,
// swallowing AWAITING_MANUAL and SETTLEMENT_IN_PROGRESS as expected
// outcomes rather than failures worth logging at error level.
func (s *Scheduler) settleRound(ctx context.Context, id uuid.UUID, initiator domain.SettlementInitiator) {
	report, err := s.settlement.SettleRound(ctx, id, service.SettleOptions{Initiator: initiator})
	if err != nil {
		if domain.IsAwaitingManual(err) || domain.IsSettlementConflict(err) {
			s.logger.Info("settleRound: deferred", "round_id", id, "reason", err)
			return
		}
		s.logger.Error("settleRound: failed", "round_id", id, "err", err)
		return
	}
	if report.AlreadyDone {
		return
	}
	if s.hub != nil {
		s.hub.BroadcastRoundSettled(ws.RoundSettledMessage{
			Type:        ws.MsgTypeRoundSettled,
			RoundID:     id,
			WinningCard: report.WinningCard,
			Timestamp:   time.Now().UTC(),
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected
// panics, log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop", "loop", loop, "panic", r)
	}
}

func errIsNoActiveRound(err error) bool {
	return errors.Is(err, domain.ErrNoActiveRound)
}
