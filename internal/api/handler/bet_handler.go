package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kismatx/roundengine/internal/api/middleware"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/service"
	"github.com/shopspring/decimal"
)

// BetHandler serves bet placement, claim, cancel, and slip-lookup endpoints
// (§6 player scope).
type BetHandler struct {
	placement *service.PlacementService
	claims    *service.ClaimCancelService
	slips     *repository.BetSlipRepository
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(placement *service.PlacementService, claims *service.ClaimCancelService, slips *repository.BetSlipRepository) *BetHandler {
	return &BetHandler{placement: placement, claims: claims, slips: slips}
}

// PlaceBet godoc
// POST /api/bets/place [JWT]
// Body: {"round_id":"uuid","lines":[{"card_number":1,"bet_amount":"50.00"}]}
// Header: X-Idempotency-Key (optional)
func (h *BetHandler) PlaceBet(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body struct {
		RoundID string `json:"round_id" binding:"required"`
		Lines   []struct {
			CardNumber int    `json:"card_number"`
			BetAmount  string `json:"bet_amount"`
		} `json:"lines" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), err.Error())
		return
	}

	roundID, err := uuid.Parse(body.RoundID)
	if err != nil {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), "invalid round_id")
		return
	}

	lines := make([]domain.BetLine, 0, len(body.Lines))
	for _, l := range body.Lines {
		amount, err := decimal.NewFromString(l.BetAmount)
		if err != nil {
			respondError(c, http.StatusBadRequest, string(domain.KindValidation), "bet_amount must be a decimal string")
			return
		}
		lines = append(lines, domain.BetLine{CardNumber: l.CardNumber, BetAmount: amount})
	}

	req := domain.PlaceBetRequest{
		RoundID:        roundID,
		Lines:          lines,
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"),
	}

	slip, err := h.placement.PlaceBet(c.Request.Context(), userID, req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, slip)
}

// Claim godoc
// POST /api/bets/claim [JWT]
// Body: {"identifier":"slip-id-or-barcode"}
func (h *BetHandler) Claim(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body domain.ClaimRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.Identifier == "" {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), "identifier is required")
		return
	}

	result, err := h.claims.Claim(c.Request.Context(), userID, body.Identifier)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Cancel godoc
// POST /api/bets/cancel [JWT]
// Body: {"slip_id":"uuid"}
func (h *BetHandler) Cancel(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var body domain.CancelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), err.Error())
		return
	}

	if err := h.claims.Cancel(c.Request.Context(), userID, body.SlipID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"slip_id": body.SlipID, "cancelled": true})
}

// GetSlip godoc
// GET /api/bets/slip/:identifier [JWT]
func (h *BetHandler) GetSlip(c *gin.Context) {
	userID := middleware.GetUserID(c)
	identifier := c.Param("identifier")

	var slip *domain.BetSlip
	var err error
	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		slip, err = h.slips.GetSlipByID(c.Request.Context(), id)
	} else {
		slip, err = h.slips.GetSlipByBarcode(c.Request.Context(), identifier)
	}
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if slip.UserID != userID {
		respondDomainError(c, domain.ErrForbidden)
		return
	}

	details, err := h.slips.GetDetailsBySlip(c.Request.Context(), slip.ID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, slip.ToResponse(details))
}
