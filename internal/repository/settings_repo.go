package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
)

// SettingsRepository is the typed data-access layer over the settings
// key/value table. It never caches anything itself — that is the Settings
// Cache's job (internal/settings).
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs a SettingsRepository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetAll loads every row of the settings table in one query, used by the
// cache to repopulate itself on a miss or expiry.
func (r *SettingsRepository) GetAll(ctx context.Context) ([]domain.Setting, error) {
	var rows []domain.Setting
	err := r.db.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("settings_repo: get all: %w", err)
	}
	return rows, nil
}

// Upsert inserts or updates a single setting. Called by the admin settings
// mutation; the caller is responsible for invalidating the cache afterward.
func (r *SettingsRepository) Upsert(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("settings_repo: upsert %q: %w", key, err)
	}
	return nil
}
