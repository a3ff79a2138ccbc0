package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/service"
	"github.com/kismatx/roundengine/internal/settings"
)

// AdminHandler serves the role-gated admin surface: manual settlement,
// settlement preview, and the settings-cache mutation (§6 admin scope).
type AdminHandler struct {
	settlement *service.SettlementService
	settings   *settings.Cache
	settingsDB *repository.SettingsRepository
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(settlement *service.SettlementService, sc *settings.Cache, settingsDB *repository.SettingsRepository) *AdminHandler {
	return &AdminHandler{settlement: settlement, settings: sc, settingsDB: settingsDB}
}

// Settle godoc
// POST /api/admin/games/:roundId/settle [JWT, admin]
// Body: {"winning_card":3}
func (h *AdminHandler) Settle(c *gin.Context) {
	roundID, err := uuid.Parse(c.Param("roundId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), "invalid round id")
		return
	}

	var body struct {
		WinningCard int `json:"winning_card" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), err.Error())
		return
	}

	card := body.WinningCard
	report, err := h.settlement.SettleRound(c.Request.Context(), roundID, service.SettleOptions{
		WinningCard: &card,
		Initiator:   domain.InitiatorAdmin,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, report)
}

// SettlementPreview godoc
// GET /api/admin/games/:roundId/settlement-preview [JWT, admin]
func (h *AdminHandler) SettlementPreview(c *gin.Context) {
	roundID, err := uuid.Parse(c.Param("roundId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), "invalid round id")
		return
	}

	preview, err := h.settlement.PreviewSettlement(c.Request.Context(), roundID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, preview)
}

// PatchSettings godoc
// PATCH /api/admin/settings [JWT, admin]
// Body: {"key":"payout_multiplier","value":"12.00"}
func (h *AdminHandler) PatchSettings(c *gin.Context) {
	var body domain.UpsertSettingRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.Key == "" {
		respondError(c, http.StatusBadRequest, string(domain.KindValidation), "key and value are required")
		return
	}

	if err := h.settingsDB.Upsert(c.Request.Context(), body.Key, body.Value); err != nil {
		respondDomainError(c, err)
		return
	}
	h.settings.Invalidate(c.Request.Context())

	respondSuccess(c, http.StatusOK, gin.H{"key": body.Key, "value": body.Value})
}
