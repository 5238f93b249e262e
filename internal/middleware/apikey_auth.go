package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/makerhub/backend/internal/models"
)

type contextKey string

const (
	ctxServiceKey contextKey = "service_key"
	ctxIdentity   contextKey = "identity"
)

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// ServiceKeyAuth authenticates collaborator services by hashing the Bearer
// token (SHA-256) and looking it up in api_keys. On success the key is put
// into the request context.
func ServiceKeyAuth(repo APIKeyRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}
			key, err := repo.FindByKeyHash(r.Context(), HashKey(raw))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceKey(r.Context(), key)))
		})
	}
}

// ServiceKeyFromCtx returns the authenticated service key or nil.
func ServiceKeyFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxServiceKey).(*models.APIKey)
	return k
}

// WithServiceKey returns a context carrying the given key.
func WithServiceKey(ctx context.Context, k *models.APIKey) context.Context {
	return context.WithValue(ctx, ctxServiceKey, k)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey returns the stored form of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
