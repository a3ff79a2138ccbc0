package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kismatx/roundengine/internal/repository"
)

// GameHandler serves the player-facing round read endpoints (§6 "games").
type GameHandler struct {
	rounds *repository.RoundRepository
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(rounds *repository.RoundRepository) *GameHandler {
	return &GameHandler{rounds: rounds}
}

// GetCurrent godoc
// GET /api/games/current
func (h *GameHandler) GetCurrent(c *gin.Context) {
	round, err := h.rounds.GetCurrent(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, round.ToSummary(time.Now().UTC()))
}

// GetPrevious godoc
// GET /api/games/previous
func (h *GameHandler) GetPrevious(c *gin.Context) {
	round, err := h.rounds.GetPrevious(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, round.ToSummary(time.Now().UTC()))
}

// GetByID godoc
// GET /api/games/:roundId
func (h *GameHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("roundId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION", "invalid round id")
		return
	}
	round, err := h.rounds.GetByID(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, round.ToSummary(time.Now().UTC()))
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
