package gen

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/draftmill/draftmill/pkg/config"
	"github.com/draftmill/draftmill/pkg/database"
)

//go:embed migrations
var migrationFS embed.FS

// SettingsStore reads and writes provider settings in PostgreSQL. The
// service itself never writes settings; it reads a snapshot once per
// (re)initialization.
type SettingsStore struct {
	db *database.DB
}

// NewSettingsStore creates a PostgreSQL-backed settings store.
func NewSettingsStore(db *database.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Migrate applies the provider_settings schema.
func (s *SettingsStore) Migrate(ctx context.Context) error {
	m := database.NewMigrator(s.db, "gen")
	if err := m.LoadMigrations(migrationFS, "migrations"); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	return m.Up(ctx)
}

// List returns all provider settings in rotation order.
func (s *SettingsStore) List(ctx context.Context) ([]config.ProviderSetting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, api_key, base_url, model, enabled, is_default
		FROM provider_settings
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider settings: %w", err)
	}
	defer rows.Close()

	var settings []config.ProviderSetting
	for rows.Next() {
		var setting config.ProviderSetting
		if err := rows.Scan(&setting.ID, &setting.APIKey, &setting.BaseURL,
			&setting.Model, &setting.Enabled, &setting.Default); err != nil {
			return nil, fmt.Errorf("failed to scan provider setting: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read provider settings: %w", err)
	}

	if err := config.ValidateProviders(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Get returns a single provider's settings, or nil if absent.
func (s *SettingsStore) Get(ctx context.Context, id string) (*config.ProviderSetting, error) {
	var setting config.ProviderSetting
	err := s.db.QueryRowContext(ctx, `
		SELECT id, api_key, base_url, model, enabled, is_default
		FROM provider_settings WHERE id = $1
	`, id).Scan(&setting.ID, &setting.APIKey, &setting.BaseURL,
		&setting.Model, &setting.Enabled, &setting.Default)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider setting: %w", err)
	}
	return &setting, nil
}

// Upsert inserts or replaces a provider's settings at the given rotation
// position.
func (s *SettingsStore) Upsert(ctx context.Context, setting config.ProviderSetting, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_settings (id, api_key, base_url, model, enabled, is_default, position, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			base_url = EXCLUDED.base_url,
			model = EXCLUDED.model,
			enabled = EXCLUDED.enabled,
			is_default = EXCLUDED.is_default,
			position = EXCLUDED.position,
			updated_at = NOW()
	`, setting.ID, setting.APIKey, setting.BaseURL, setting.Model,
		setting.Enabled, setting.Default, position)
	if err != nil {
		return fmt.Errorf("failed to upsert provider setting: %w", err)
	}
	return nil
}

// Delete removes a provider's settings.
func (s *SettingsStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_settings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider setting: %w", err)
	}
	return nil
}
