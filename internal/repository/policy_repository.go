package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

// PolicyRepository persists engine policy settings as key/value rows.
type PolicyRepository struct {
	db *sqlx.DB
}

// NewPolicyRepository constructs the repository.
func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Get fetches a single setting by key or sql.ErrNoRows.
func (r *PolicyRepository) Get(ctx context.Context, key string) (*models.PolicySetting, error) {
	const query = `SELECT key, value, updated_by, updated_at FROM policy_settings WHERE key = $1`
	var setting models.PolicySetting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		return nil, err
	}
	return &setting, nil
}

// ListByKeys returns the settings present among keys.
func (r *PolicyRepository) ListByKeys(ctx context.Context, keys []string) ([]models.PolicySetting, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	const query = `SELECT key, value, updated_by, updated_at FROM policy_settings WHERE key = ANY($1) ORDER BY key ASC`
	var settings []models.PolicySetting
	if err := r.db.SelectContext(ctx, &settings, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("list policy settings: %w", err)
	}
	return settings, nil
}

// Upsert inserts or updates a setting.
func (r *PolicyRepository) Upsert(ctx context.Context, setting *models.PolicySetting) error {
	const query = `INSERT INTO policy_settings (key, value, updated_by, updated_at)
VALUES (:key, :value, :updated_by, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("upsert policy setting: %w", err)
	}
	return nil
}
