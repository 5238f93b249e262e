package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerhub/backend/internal/admin"
	"github.com/makerhub/backend/internal/audit"
	"github.com/makerhub/backend/internal/auth"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/fulfillment"
	"github.com/makerhub/backend/internal/giftcard"
	"github.com/makerhub/backend/internal/handlers"
	"github.com/makerhub/backend/internal/jobs"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/middleware"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/storetest"
	"github.com/makerhub/backend/internal/validate"
)

type env struct {
	store  *storetest.Store
	engine *ledger.Engine
	ledger *handlers.LedgerHandler
	cards  *handlers.GiftCardHandler
	admin  *handlers.AdminHandler
	orders *handlers.OrderHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := storetest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v, err := validate.New()
	require.NoError(t, err)
	retry := database.RetryPolicy{MaxAttempts: 2}

	engine := ledger.NewEngine(s, s.Wallets, s.Transactions, retry, logger)
	auditor := audit.NewService(s.Audit, logger)
	orders := fulfillment.NewService(fulfillment.Deps{
		DB:          s,
		Orders:      s.Orders,
		MakerOrders: s.MakerOrders,
		Ledger:      engine,
		Audit:       auditor,
		InsertRefund: func(ctx context.Context, tx pgx.Tx, args jobs.RefundOrderArgs) error {
			return s.Enqueue(ctx, tx, args)
		},
		Retry:  retry,
		Logger: logger,
	})

	return &env{
		store:  s,
		engine: engine,
		ledger: &handlers.LedgerHandler{Ledger: engine, Validator: v, Logger: logger},
		cards: &handlers.GiftCardHandler{
			Cards:     giftcard.NewService(s, s.GiftCards, engine, auditor, retry, 0, logger),
			Validator: v,
			Logger:    logger,
		},
		admin: &handlers.AdminHandler{
			Adjuster:  admin.NewService(s, engine, auditor, retry, 0, logger),
			Audit:     auditor,
			Validator: v,
			Logger:    logger,
		},
		orders: &handlers.OrderHandler{Orders: orders, Validator: v, Logger: logger},
	}
}

type call struct {
	method  string
	pattern string
	path    string
	body    string
	as      *auth.Identity
}

// serve mounts h on a chi router so path parameters resolve as in production.
func serve(t *testing.T, h http.HandlerFunc, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	r.Method(c.method, c.pattern, h)

	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.as != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), *c.as))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func user(id uuid.UUID) *auth.Identity { return &auth.Identity{UserID: id, Role: auth.RoleUser} }

func adminID() *auth.Identity { return &auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin} }

func applyCall(body string) call {
	return call{method: http.MethodPost, pattern: "/transactions", path: "/transactions", body: body}
}

func TestApplyTransaction_CreditThenOverspend(t *testing.T) {
	e := newEnv(t)
	u := uuid.New()

	rec, body := serve(t, e.ledger.ApplyTransaction, applyCall(`{"user_id":"`+u.String()+`","type":"purchase","amount":500,"reference_id":"pay_1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(500), body["new_balance"])
	assert.Equal(t, false, body["replayed"])

	rec, body = serve(t, e.ledger.ApplyTransaction, applyCall(`{"user_id":"`+u.String()+`","type":"purchase","amount":500,"reference_id":"pay_1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["replayed"])
	assert.Equal(t, float64(500), body["new_balance"])

	rec, body = serve(t, e.ledger.ApplyTransaction, applyCall(`{"user_id":"`+u.String()+`","type":"spend","amount":-501}`))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "insufficient_balance", errorCode(body))
	assert.Len(t, e.store.AllTransactions(), 1)
}

func TestApplyTransaction_RejectsInvalidBodies(t *testing.T) {
	e := newEnv(t)
	u := uuid.New().String()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"user_id":`},
		{"zero amount", `{"user_id":"` + u + `","type":"bonus","amount":0}`},
		{"unknown type", `{"user_id":"` + u + `","type":"gift","amount":5}`},
		{"bad user id", `{"user_id":"nope","type":"bonus","amount":5}`},
		{"fractional amount", `{"user_id":"` + u + `","type":"bonus","amount":1.5}`},
		{"extra field", `{"user_id":"` + u + `","type":"bonus","amount":5,"admin":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, e.ledger.ApplyTransaction, applyCall(tt.body))
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, "invalid_request", errorCode(body))
		})
	}
	begins, _, _ := e.store.Counts()
	assert.Zero(t, begins)
}

func TestApplyTransaction_ConcurrencyExhaustedIsRetryable(t *testing.T) {
	e := newEnv(t)
	for range 2 {
		e.store.Fail("commit", &pgconn.PgError{Code: "40001"})
	}

	rec, body := serve(t, e.ledger.ApplyTransaction, applyCall(`{"user_id":"`+uuid.New().String()+`","type":"bonus","amount":5}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "concurrent_update", errorCode(body))
}

func TestGetWallet_InfrastructureErrorIsNotLeaked(t *testing.T) {
	e := newEnv(t)
	e.store.Fail("wallets.get", errors.New("pq: connection reset by peer"))

	rec, body := serve(t, e.ledger.GetWallet, call{method: http.MethodGet, pattern: "/wallet", path: "/wallet", as: user(uuid.New())})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", errorCode(body))
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestGetWallet_RequiresIdentity(t *testing.T) {
	e := newEnv(t)
	rec, body := serve(t, e.ledger.GetWallet, call{method: http.MethodGet, pattern: "/wallet", path: "/wallet"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(body))
}

func TestListTransactions_Paging(t *testing.T) {
	e := newEnv(t)
	u := uuid.New()
	for range 3 {
		_, err := e.engine.Apply(context.Background(), ledger.ApplyRequest{UserID: u, Type: models.TransactionBonus, Amount: 10})
		require.NoError(t, err)
	}
	list := call{method: http.MethodGet, pattern: "/wallet/transactions", as: user(u)}

	list.path = "/wallet/transactions?limit=2&offset=1"
	rec, body := serve(t, e.ledger.ListTransactions, list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["transactions"], 2)
	assert.Equal(t, float64(2), body["limit"])

	list.path = "/wallet/transactions?limit=-1"
	rec, body = serve(t, e.ledger.ListTransactions, list)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_query", errorCode(body))
}

func TestVerifyWallet_ReportsMismatch(t *testing.T) {
	e := newEnv(t)
	u := uuid.New()
	e.store.SeedWallet(models.Wallet{UserID: u, Balance: 50, LifetimeEarned: 50})

	rec, body := serve(t, e.ledger.VerifyWallet, call{
		method: http.MethodGet, pattern: "/admin/wallets/{userID}/verify", path: "/admin/wallets/" + u.String() + "/verify",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "invariant_violation", errorCode(body))
	v := body["verification"].(map[string]any)
	assert.Equal(t, false, v["consistent"])
	assert.Equal(t, float64(0), v["ledger_sum"])
}

func TestAdminGetWallet_BadPathParam(t *testing.T) {
	e := newEnv(t)
	rec, body := serve(t, e.ledger.AdminGetWallet, call{
		method: http.MethodGet, pattern: "/admin/wallets/{userID}", path: "/admin/wallets/not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_path_parameter", errorCode(body))
}

func TestRedeem_OnceThenConflict(t *testing.T) {
	e := newEnv(t)
	e.store.SeedGiftCard(models.GiftCard{Code: "ABCD-EFGH-JKLM", CreditsValue: 2500, Status: models.GiftCardIssued})
	u := uuid.New()
	redeem := call{method: http.MethodPost, pattern: "/gift-cards/redeem", path: "/gift-cards/redeem", body: `{"code":"abcd-efgh-jklm"}`, as: user(u)}

	rec, body := serve(t, e.cards.Redeem, redeem)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2500), body["credits_value"])
	assert.Equal(t, float64(2500), body["new_balance"])

	rec, body = serve(t, e.cards.Redeem, redeem)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_redeemed", errorCode(body))

	redeem.body = `{"code":"ZZZZ-ZZZZ-ZZZZ"}`
	rec, body = serve(t, e.cards.Redeem, redeem)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "gift_card_not_found", errorCode(body))
}

func TestIssueAndVoidGiftCard(t *testing.T) {
	e := newEnv(t)
	a := adminID()

	rec, body := serve(t, e.cards.Issue, call{
		method: http.MethodPost, pattern: "/admin/gift-cards", path: "/admin/gift-cards",
		body: `{"credits_value":1000,"expires_at":"2030-01-01T00:00:00Z","reason":"launch promo"}`, as: a,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	card := body["gift_card"].(map[string]any)
	code := card["code"].(string)
	assert.True(t, giftcard.ValidCode(code))
	assert.Equal(t, "issued", card["status"])

	rec, body = serve(t, e.cards.Void, call{
		method: http.MethodPost, pattern: "/admin/gift-cards/{code}/void", path: "/admin/gift-cards/" + code + "/void",
		body: `{"reason":"printed in error"}`, as: a,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "void", body["gift_card"].(map[string]any)["status"])
	assert.Len(t, e.store.AuditEntries(), 2)
}

func TestIssueGiftCard_BadExpiry(t *testing.T) {
	e := newEnv(t)
	rec, body := serve(t, e.cards.Issue, call{
		method: http.MethodPost, pattern: "/admin/gift-cards", path: "/admin/gift-cards",
		body: `{"credits_value":1000,"expires_at":"2030-01-01T25:00"}`, as: adminID(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(body))
}

func TestAdjustCredits_WritesAuditEntry(t *testing.T) {
	e := newEnv(t)
	u := uuid.New()
	_, err := e.engine.Apply(context.Background(), ledger.ApplyRequest{UserID: u, Type: models.TransactionPurchase, Amount: 1000})
	require.NoError(t, err)

	rec, body := serve(t, e.admin.AdjustCredits, call{
		method: http.MethodPost, pattern: "/admin/credits/adjust", path: "/admin/credits/adjust",
		body: `{"user_id":"` + u.String() + `","amount":-400,"reason":"chargeback fraud","type":"correction"}`, as: adminID(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(600), body["new_balance"])

	entries := e.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, entries[0].ID.String(), body["audit_entry_id"])
	assert.Equal(t, models.AuditCreditAdjustment, entries[0].ActionType)
}

func TestAdjustCredits_ReasonRequired(t *testing.T) {
	e := newEnv(t)
	rec, _ := serve(t, e.admin.AdjustCredits, call{
		method: http.MethodPost, pattern: "/admin/credits/adjust", path: "/admin/credits/adjust",
		body: `{"user_id":"` + uuid.New().String() + `","amount":100,"reason":"","type":"bonus"}`, as: adminID(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, e.store.AuditEntries())
}

func TestAuditLog_Filters(t *testing.T) {
	e := newEnv(t)
	a := adminID()
	for _, reason := range []string{"welcome bonus", "refund for late order"} {
		rec, _ := serve(t, e.admin.AdjustCredits, call{
			method: http.MethodPost, pattern: "/admin/credits/adjust", path: "/admin/credits/adjust",
			body: `{"user_id":"` + uuid.New().String() + `","amount":100,"reason":"` + reason + `","type":"bonus"}`, as: a,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	list := call{method: http.MethodGet, pattern: "/admin/audit-log", as: a}

	list.path = "/admin/audit-log?q=late&admin_id=" + a.UserID.String()
	rec, body := serve(t, e.admin.AuditLog, list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["entries"], 1)
	assert.Equal(t, "refund for late order", body["entries"].([]any)[0].(map[string]any)["reason"])

	list.path = "/admin/audit-log?action_type=order_cancel"
	_, body = serve(t, e.admin.AuditLog, list)
	assert.Empty(t, body["entries"])

	list.path = "/admin/audit-log?admin_id=bob"
	rec, _ = serve(t, e.admin.AuditLog, list)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	buyer, maker, a := uuid.New(), uuid.New(), adminID()

	rec, body := serve(t, e.orders.Create, call{
		method: http.MethodPost, pattern: "/orders", path: "/orders",
		body: `{"user_id":"` + buyer.String() + `","total":1000,"payment_method":"card","shipping_address":"1 Workshop Lane"}`,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orderID := body["order"].(map[string]any)["id"].(string)

	rec, _ = serve(t, e.orders.ConfirmPayment, call{
		method: http.MethodPost, pattern: "/orders/{id}/confirm-payment", path: "/orders/" + orderID + "/confirm-payment",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = serve(t, e.orders.Assign, call{
		method: http.MethodPost, pattern: "/admin/orders/{id}/assign", path: "/admin/orders/" + orderID + "/assign",
		body: `{"maker_id":"` + maker.String() + `"}`, as: a,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status := call{method: http.MethodPost, pattern: "/maker/orders/{id}/status", path: "/maker/orders/" + orderID + "/status", as: user(maker)}

	status.body = `{"status":"shipped"}`
	rec, body = serve(t, e.orders.MakerUpdateStatus, status)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_tracking_info", errorCode(body))

	status.body = `{"status":"in_production"}`
	status.as = user(uuid.New())
	rec, body = serve(t, e.orders.MakerUpdateStatus, status)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_permitted", errorCode(body))

	status.as = user(maker)
	rec, _ = serve(t, e.orders.MakerUpdateStatus, status)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status.body = `{"status":"completed"}`
	rec, _ = serve(t, e.orders.MakerUpdateStatus, status)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = serve(t, e.orders.Cancel, call{
		method: http.MethodPost, pattern: "/admin/orders/{id}/cancel", path: "/admin/orders/" + orderID + "/cancel",
		body: `{"reason":"maker out of filament"}`, as: a,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", body["order"].(map[string]any)["status"])
	assert.Positive(t, body["refund_amount"])
	assert.Len(t, e.store.Jobs(), 1)

	get := call{method: http.MethodGet, pattern: "/orders/{id}", path: "/orders/" + orderID}
	get.as = user(buyer)
	rec, _ = serve(t, e.orders.Get, get)
	assert.Equal(t, http.StatusOK, rec.Code)

	get.as = user(uuid.New())
	rec, body = serve(t, e.orders.Get, get)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "order_not_found", errorCode(body))
}

func TestOrderTransitionConflict(t *testing.T) {
	e := newEnv(t)
	rec, body := serve(t, e.orders.Create, call{
		method: http.MethodPost, pattern: "/orders", path: "/orders",
		body: `{"user_id":"` + uuid.New().String() + `","total":10,"payment_method":"card","shipping_address":"x"}`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := body["order"].(map[string]any)["id"].(string)

	rec, body = serve(t, e.orders.ConfirmDelivery, call{
		method: http.MethodPost, pattern: "/admin/orders/{id}/confirm-delivery", path: "/admin/orders/" + orderID + "/confirm-delivery", as: adminID(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(body))
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := &handlers.HealthHandler{DB: fakePinger{}, Logger: logger}
	rec, body := serve(t, ok.Healthz, call{method: http.MethodGet, pattern: "/healthz", path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	down := &handlers.HealthHandler{DB: fakePinger{err: context.DeadlineExceeded}, Logger: logger}
	rec, _ = serve(t, down.Healthz, call{method: http.MethodGet, pattern: "/healthz", path: "/healthz"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

