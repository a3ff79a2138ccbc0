package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kismatx/roundengine/internal/api/middleware"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/kismatx/roundengine/internal/repository"
)

// WalletHandler serves the wallet summary endpoint (§6 "GET /wallet/summary").
// Deposits and withdrawals are not part of this core — the wallet's only
// writers are the Wallet Ledger invoked from placement, claim, cancel, and
// settlement.
type WalletHandler struct {
	wallets *repository.WalletRepository
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallets *repository.WalletRepository) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// GetSummary godoc
// GET /api/wallet/summary?page=1&limit=20 [JWT]
func (h *WalletHandler) GetSummary(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ctx := c.Request.Context()

	wallet, err := h.wallets.GetByUserID(ctx, userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	page, limit := parsePagination(c)
	entries, err := h.wallets.ListEntries(ctx, userID, domain.EntryFilter{}, domain.Pagination{Limit: limit, Offset: (page - 1) * limit})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, domain.WalletSummary{
		UserID:  userID,
		Balance: wallet.Balance,
		Entries: entries,
	})
}
