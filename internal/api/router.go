package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kismatx/roundengine/internal/api/handler"
	"github.com/kismatx/roundengine/internal/api/middleware"
	"github.com/kismatx/roundengine/internal/config"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/service"
	"github.com/kismatx/roundengine/internal/settings"
	"github.com/kismatx/roundengine/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Placement  *service.PlacementService
	Settlement *service.SettlementService
	Claims     *service.ClaimCancelService
	Rounds     *repository.RoundRepository
	Slips      *repository.BetSlipRepository
	Wallets    *repository.WalletRepository
	Users      *repository.UserRepository
	SettingsDB *repository.SettingsRepository
	Settings   *settings.Cache
	Hub        *ws.Hub
	Cfg        *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if t := deps.Cfg.Server.RequestTimeout; t > 0 {
		r.Use(func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), t)
			defer cancel()
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	userH := handler.NewUserHandler(deps.Users)
	gameH := handler.NewGameHandler(deps.Rounds)
	betH := handler.NewBetHandler(deps.Placement, deps.Claims, deps.Slips)
	walletH := handler.NewWalletHandler(deps.Wallets)
	adminH := handler.NewAdminHandler(deps.Settlement, deps.Settings, deps.SettingsDB)

	// ── JWT / admin middleware (shared) ───────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.Cfg.JWT.AccessSecret)
	adminMW := middleware.AdminMiddleware()

	// ── Rate limiters ─────────────────────────────────────────────────────────
	betRL := middleware.RateLimitMiddleware(30) // 30 req/s per IP on the money-moving bet endpoints

	api := r.Group("/api")
	{
		// ── Games (public round reads) ────────────────────────────────────────
		games := api.Group("/games")
		{
			games.GET("/current", gameH.GetCurrent)
			games.GET("/previous", gameH.GetPrevious)
			games.GET("/:roundId", gameH.GetByID)
		}

		// ── Authenticated player routes ───────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.GET("/me", userH.Me)

			bets := authed.Group("/bets")
			bets.Use(betRL)
			{
				bets.POST("/place", betH.PlaceBet)
				bets.POST("/claim", betH.Claim)
				bets.POST("/cancel", betH.Cancel)
				bets.GET("/slip/:identifier", betH.GetSlip)
			}

			authed.GET("/wallet/summary", walletH.GetSummary)
		}

		// ── Admin routes ───────────────────────────────────────────────────────
		admin := api.Group("/admin")
		admin.Use(jwtMW, adminMW)
		{
			admin.POST("/games/:roundId/settle", adminH.Settle)
			admin.GET("/games/:roundId/settlement-preview", adminH.SettlementPreview)
			admin.PATCH("/settings", adminH.PatchSettings)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// Outside production, or when no origins are configured, all origins are
// allowed; in production with a configured list only those origins are.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := parseAllowedOrigins(cfg.Server.AllowedOrigins)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() || len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Idempotency-Key, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// parseAllowedOrigins splits the comma-separated SERVER_ALLOWED_ORIGINS
// config value into a lookup set.
func parseAllowedOrigins(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out[raw[start:i]] = true
			}
			start = i + 1
		}
	}
	return out
}
