package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/makerhub/backend/internal/handlers"
	"github.com/makerhub/backend/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by New.
type Handlers struct {
	Health    *handlers.HealthHandler
	Ledger    *handlers.LedgerHandler
	GiftCards *handlers.GiftCardHandler
	Admin     *handlers.AdminHandler
	Orders    *handlers.OrderHandler
}

// New returns an http.Handler that serves the API under /api/v1.
//
// Collaborator services authenticate with an API key; users, makers and
// admins with a bearer token. Admin routes additionally require the admin role.
func New(h Handlers, keys middleware.APIKeyRepo, tokens middleware.TokenValidator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Health.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.ServiceKeyAuth(keys))
			r.Post("/transactions", h.Ledger.ApplyTransaction)
			r.Post("/orders", h.Orders.Create)
			r.Post("/orders/{id}/confirm-payment", h.Orders.ConfirmPayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(tokens))

			r.Get("/wallet", h.Ledger.GetWallet)
			r.Get("/wallet/transactions", h.Ledger.ListTransactions)
			r.Post("/gift-cards/redeem", h.GiftCards.Redeem)
			r.Get("/orders/{id}", h.Orders.Get)
			r.Post("/maker/orders/{id}/status", h.Orders.MakerUpdateStatus)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Post("/credits/adjust", h.Admin.AdjustCredits)
				r.Get("/audit-log", h.Admin.AuditLog)
				r.Get("/wallets/{userID}", h.Ledger.AdminGetWallet)
				r.Get("/wallets/{userID}/verify", h.Ledger.VerifyWallet)
				r.Post("/gift-cards", h.GiftCards.Issue)
				r.Post("/gift-cards/{code}/void", h.GiftCards.Void)
				r.Post("/orders/{id}/assign", h.Orders.Assign)
				r.Post("/orders/{id}/confirm-delivery", h.Orders.ConfirmDelivery)
				r.Post("/orders/{id}/cancel", h.Orders.Cancel)
			})
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
