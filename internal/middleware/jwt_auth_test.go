package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/auth"
)

func identityHandler(t *testing.T, want uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromCtx(r.Context())
		if !ok || id.UserID != want {
			t.Errorf("identity = %+v, %v", id, ok)
		}
	})
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewService("s3cret", time.Hour)
	user := uuid.New()
	tok, err := svc.IssueToken(user, auth.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	mw := Authenticate(svc)(identityHandler(t, user))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token: expected 401, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	cases := []struct {
		name string
		ctx  func(context.Context) context.Context
		want int
	}{
		{"anonymous", func(c context.Context) context.Context { return c }, http.StatusUnauthorized},
		{"user", func(c context.Context) context.Context {
			return WithIdentity(c, auth.Identity{UserID: uuid.New(), Role: auth.RoleUser})
		}, http.StatusForbidden},
		{"admin", func(c context.Context) context.Context {
			return WithIdentity(c, auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin})
		}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(tc.ctx(req.Context()))
			rec := httptest.NewRecorder()
			RequireAdmin(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
