// Package servicekey mints API keys for collaborator services.
package servicekey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/middleware"
	"github.com/makerhub/backend/internal/models"
)

const (
	rawPrefix = "mh_"
	prefixLen = 11
)

var ErrNameRequired = errors.New("service key name is required")

type Creator interface {
	Create(ctx context.Context, k *models.APIKey) error
}

// Mint generates a random key, stores only its SHA-256 hash and returns the
// raw key. The raw key cannot be recovered later.
func Mint(ctx context.Context, repo Creator, name string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, ErrNameRequired
	}
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	rawKey := rawPrefix + hex.EncodeToString(rawBytes)

	k := &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   middleware.HashKey(rawKey),
		KeyPrefix: rawKey[:prefixLen],
		IsActive:  true,
	}
	if err := repo.Create(ctx, k); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return rawKey, k, nil
}
