package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
)

type SettingsRepo struct {
	db db.DB
}

func NewSettingsRepo(db db.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get returns the singleton credentials row. An empty Settings value is
// returned before the first write; the adapters treat empty fields as
// missing credentials.
func (r *SettingsRepo) Get(ctx context.Context) (*repository.Settings, error) {
	var settings repository.Settings
	err := r.db.Get(ctx, &settings, `
        SELECT wb_token, ozon_client_id, ozon_api_key, updated_at
        FROM settings WHERE id = 1
    `)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &repository.Settings{}, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

func (r *SettingsRepo) Upsert(ctx context.Context, settings *repository.Settings) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO settings (id, wb_token, ozon_client_id, ozon_api_key, updated_at)
        VALUES (1, $1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            wb_token = EXCLUDED.wb_token,
            ozon_client_id = EXCLUDED.ozon_client_id,
            ozon_api_key = EXCLUDED.ozon_api_key,
            updated_at = EXCLUDED.updated_at
    `, settings.WBToken, settings.OzonClientID, settings.OzonAPIKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}
