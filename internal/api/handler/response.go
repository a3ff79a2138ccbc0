package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kismatx/roundengine/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondDomainError classifies err per §7's error-kind table and writes the
// matching status/code/message. Every service method returns a typed
// sentinel error, so this is the single mapping every handler funnels
// through rather than re-deriving the switch at each call site.
func respondDomainError(c *gin.Context, err error) {
	kind := domain.Classify(err)
	status := domain.HTTPStatus(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	respondError(c, status, string(kind), msg)
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}
