package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kismatx/roundengine/internal/api/middleware"
	"github.com/kismatx/roundengine/internal/repository"
)

// UserHandler serves the player's own profile. Registration, login, and
// token refresh are minted by the external auth/session collaborator
// SPEC_FULL.md §1 treats as out of scope — this handler only ever reads the
// already-authenticated caller back.
type UserHandler struct {
	users *repository.UserRepository
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *repository.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// Me godoc
// GET /api/me [JWT]
func (h *UserHandler) Me(c *gin.Context) {
	userID := middleware.GetUserID(c)
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, user.ToPublicProfile())
}
