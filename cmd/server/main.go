// Package main is the entry point for the round wagering engine's API
// server. It wires together all repositories and services and starts the
// HTTP server alongside the WebSocket hub and the round-lifecycle scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kismatx/roundengine/internal/api"
	"github.com/kismatx/roundengine/internal/config"
	"github.com/kismatx/roundengine/internal/ledger"
	"github.com/kismatx/roundengine/internal/repository"
	"github.com/kismatx/roundengine/internal/scheduler"
	"github.com/kismatx/roundengine/internal/service"
	"github.com/kismatx/roundengine/internal/settings"
	"github.com/kismatx/roundengine/internal/ws"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting round wagering engine", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(cfg.DB.DSN, logger); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	// ── 4. Repositories ───────────────────────────────────────────────────────
	userRepo := repository.NewUserRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	roundRepo := repository.NewRoundRepository(db)
	slipRepo := repository.NewBetSlipRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// ── 5. Settings cache + Redis fan-out ──────────────────────────────────────
	notifier := settings.NewRedisNotifier(cfg.Redis.Addr, cfg.Redis.Channel, logger)
	settingsCache := settings.New(settingsRepo, cfg.Game.SettingsCacheTTL, notifier, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier.Subscribe(rootCtx, settingsCache.OnRemoteInvalidate)

	// ── 6. WebSocket Hub ──────────────────────────────────────────────────────
	jwtSecret := []byte(cfg.JWT.AccessSecret)
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(jwtSecret, allowedOrigins)

	// ── 7. Start WS Hub ───────────────────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	// ── 8. Ledger + services ────────────────────────────────────────────────────
	walletLedger := ledger.New(walletRepo)

	placementSvc := service.NewPlacementService(db, roundRepo, slipRepo, walletLedger, settingsCache, hub, cfg)
	settlementSvc := service.NewSettlementService(db, roundRepo, slipRepo, walletLedger, settingsCache, logger)
	claimCancelSvc := service.NewClaimCancelService(db, roundRepo, slipRepo, walletRepo, walletLedger, settingsCache)

	// ── 9. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(roundRepo, settlementSvc, settingsCache, hub, cfg, logger)
	sched.Start(rootCtx)

	// ── 10. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Placement:  placementSvc,
		Settlement: settlementSvc,
		Claims:     claimCancelSvc,
		Rounds:     roundRepo,
		Slips:      slipRepo,
		Wallets:    walletRepo,
		Users:      userRepo,
		SettingsDB: settingsRepo,
		Settings:   settingsCache,
		Hub:        hub,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 11. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	<-rootCtx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations applies every pending migration under ./migrations.
func runMigrations(dsn string, logger *slog.Logger) error {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		return fmt.Errorf("runMigrations: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("runMigrations: migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}
