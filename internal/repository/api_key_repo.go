package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, k.ID, k.Name, k.KeyHash, k.KeyPrefix, k.IsActive).Scan(&k.CreatedAt)
}

// FindByKeyHash returns the active key with the given hash, or ErrNotFound.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	var k models.APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, key_hash, key_prefix, is_active, created_at
		FROM api_keys WHERE key_hash = $1 AND is_active = TRUE
	`, keyHash).Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.IsActive, &k.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}
