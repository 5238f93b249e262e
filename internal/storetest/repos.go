package storetest

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/repository"
)

type WalletRepo struct{ s *Store }

func (r *WalletRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("wallets.get"); err != nil {
		return nil, err
	}
	w, ok := r.s.st.wallets[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (r *WalletRepo) EnsureTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("wallets.ensure"); err != nil {
		return err
	}
	if _, ok := r.s.st.wallets[userID]; !ok {
		now := r.s.now()
		r.s.st.wallets[userID] = models.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (r *WalletRepo) GetForUpdateTx(ctx context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *WalletRepo) UpdateTx(_ context.Context, _ pgx.Tx, w *models.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("wallets.update"); err != nil {
		return err
	}
	if _, ok := r.s.st.wallets[w.UserID]; !ok {
		return repository.ErrNotFound
	}
	w.UpdatedAt = r.s.now()
	r.s.st.wallets[w.UserID] = *w
	return nil
}

type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("transactions.create"); err != nil {
		return err
	}
	if t.ReferenceID != nil {
		for _, e := range r.s.st.txns {
			if e.Type == t.Type && e.ReferenceID != nil && *e.ReferenceID == *t.ReferenceID {
				return uniqueViolation("uq_transactions_type_reference")
			}
		}
	}
	t.CreatedAt = r.s.now()
	r.s.st.txns = append(r.s.st.txns, *t)
	return nil
}

func (r *TransactionRepo) FindByReferenceTx(_ context.Context, _ pgx.Tx, typ models.TransactionType, referenceID string) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.txns {
		if e.Type == typ && e.ReferenceID != nil && *e.ReferenceID == referenceID {
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *TransactionRepo) ListByUserID(_ context.Context, userID uuid.UUID, page models.Page) ([]*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("transactions.list"); err != nil {
		return nil, err
	}
	var all []*models.Transaction
	for i := len(r.s.st.txns) - 1; i >= 0; i-- {
		if e := r.s.st.txns[i]; e.UserID == userID {
			all = append(all, &e)
		}
	}
	return window(all, page), nil
}

func (r *TransactionRepo) SumByUserIDTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum, n int64
	for _, e := range r.s.st.txns {
		if e.UserID == userID {
			sum += e.Amount
			n++
		}
	}
	return sum, n, nil
}

type GiftCardRepo struct{ s *Store }

func (r *GiftCardRepo) CreateTx(_ context.Context, _ pgx.Tx, g *models.GiftCard) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("gift_cards.create"); err != nil {
		return err
	}
	if _, ok := r.s.st.giftCards[g.Code]; ok {
		return uniqueViolation("gift_cards_pkey")
	}
	g.CreatedAt = r.s.now()
	r.s.st.giftCards[g.Code] = *g
	return nil
}

func (r *GiftCardRepo) GetByCode(_ context.Context, code string) (*models.GiftCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.st.giftCards[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &g, nil
}

func (r *GiftCardRepo) GetForUpdateTx(ctx context.Context, _ pgx.Tx, code string) (*models.GiftCard, error) {
	return r.GetByCode(ctx, code)
}

func (r *GiftCardRepo) MarkRedeemedTx(_ context.Context, _ pgx.Tx, code string, userID uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("gift_cards.redeem"); err != nil {
		return false, err
	}
	g, ok := r.s.st.giftCards[code]
	if !ok || g.Status != models.GiftCardIssued {
		return false, nil
	}
	g.Status = models.GiftCardRedeemed
	g.RedeemedBy = &userID
	g.RedeemedAt = &at
	r.s.st.giftCards[code] = g
	return true, nil
}

func (r *GiftCardRepo) MarkVoidTx(_ context.Context, _ pgx.Tx, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.st.giftCards[code]
	if !ok || g.Status != models.GiftCardIssued {
		return false, nil
	}
	g.Status = models.GiftCardVoid
	r.s.st.giftCards[code] = g
	return true, nil
}

func (r *GiftCardRepo) ExpireIssuedBefore(_ context.Context, now time.Time) (int64, error) {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("gift_cards.expire"); err != nil {
		return 0, err
	}
	var n int64
	for code, g := range r.s.st.giftCards {
		if g.Status == models.GiftCardIssued && g.PastExpiry(now) {
			g.Status = models.GiftCardExpired
			r.s.st.giftCards[code] = g
			n++
		}
	}
	return n, nil
}

type OrderRepo struct{ s *Store }

func (r *OrderRepo) CreateTx(_ context.Context, _ pgx.Tx, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("orders.create"); err != nil {
		return err
	}
	o.CreatedAt = r.s.now()
	o.UpdatedAt = o.CreatedAt
	stored := *o
	stored.StatusHistory, stored.Maker = nil, nil
	r.s.st.orders[o.ID] = stored
	return nil
}

func (r *OrderRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (r *OrderRepo) GetForUpdateTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *OrderRepo) UpdateStatusTx(_ context.Context, _ pgx.Tx, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("orders.update"); err != nil {
		return err
	}
	stored, ok := r.s.st.orders[o.ID]
	if !ok {
		return repository.ErrNotFound
	}
	o.UpdatedAt = r.s.now()
	stored.Status = o.Status
	stored.PaymentConfirmedAt = o.PaymentConfirmedAt
	stored.UpdatedAt = o.UpdatedAt
	r.s.st.orders[o.ID] = stored
	return nil
}

func (r *OrderRepo) AppendHistoryTx(_ context.Context, _ pgx.Tx, c *models.StatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("order_status_history.create"); err != nil {
		return err
	}
	c.CreatedAt = r.s.now()
	r.s.st.history = append(r.s.st.history, *c)
	return nil
}

func (r *OrderRepo) ListHistory(_ context.Context, orderID uuid.UUID) ([]models.StatusChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := []models.StatusChange{}
	for _, c := range r.s.st.history {
		if c.OrderID == orderID {
			list = append(list, c)
		}
	}
	return list, nil
}

type MakerOrderRepo struct{ s *Store }

func (r *MakerOrderRepo) CreateTx(_ context.Context, _ pgx.Tx, m *models.MakerOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("maker_orders.create"); err != nil {
		return err
	}
	if _, ok := r.s.st.makers[m.OrderID]; ok {
		return uniqueViolation("maker_orders_order_id_key")
	}
	m.AssignedAt = r.s.now()
	m.UpdatedAt = m.AssignedAt
	r.s.st.makers[m.OrderID] = *m
	return nil
}

func (r *MakerOrderRepo) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.MakerOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.st.makers[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r *MakerOrderRepo) GetByOrderIDForUpdateTx(ctx context.Context, _ pgx.Tx, orderID uuid.UUID) (*models.MakerOrder, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r *MakerOrderRepo) UpdateTx(_ context.Context, _ pgx.Tx, m *models.MakerOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("maker_orders.update"); err != nil {
		return err
	}
	if _, ok := r.s.st.makers[m.OrderID]; !ok {
		return repository.ErrNotFound
	}
	m.UpdatedAt = r.s.now()
	r.s.st.makers[m.OrderID] = *m
	return nil
}

type AuditRepo struct{ s *Store }

func (r *AuditRepo) CreateTx(_ context.Context, _ pgx.Tx, e *models.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("audit.create"); err != nil {
		return err
	}
	e.CreatedAt = r.s.now()
	r.s.st.audit = append(r.s.st.audit, *e)
	return nil
}

func (r *AuditRepo) Query(_ context.Context, f models.AuditFilter) ([]*models.AuditLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Search))
	var all []*models.AuditLogEntry
	for i := len(r.s.st.audit) - 1; i >= 0; i-- {
		e := r.s.st.audit[i]
		switch {
		case f.ActionType != "" && e.ActionType != f.ActionType:
			continue
		case f.TargetType != "" && e.TargetType != f.TargetType:
			continue
		case f.AdminID != nil && e.AdminID != *f.AdminID:
			continue
		case q != "" && !strings.Contains(strings.ToLower(e.Reason), q) && !strings.Contains(strings.ToLower(e.TargetID), q):
			continue
		}
		all = append(all, &e)
	}
	return window(all, f.Page), nil
}

type APIKeyRepo struct{ s *Store }

func (r *APIKeyRepo) Create(_ context.Context, k *models.APIKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.apiKeys[k.KeyHash]; ok {
		return uniqueViolation("api_keys_key_hash_key")
	}
	k.CreatedAt = r.s.now()
	r.s.st.apiKeys[k.KeyHash] = *k
	return nil
}

func (r *APIKeyRepo) FindByKeyHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.st.apiKeys[keyHash]
	if !ok || !k.IsActive {
		return nil, repository.ErrNotFound
	}
	return &k, nil
}

func window[T any](all []T, page models.Page) []T {
	page = page.Normalize()
	out := []T{}
	if page.Offset >= len(all) {
		return out
	}
	end := page.Offset + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return append(out, all[page.Offset:end]...)
}

// History returns all status changes ordered by time.
func (s *Store) History() []models.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.StatusChange(nil), s.st.history...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AuditEntries returns every audit entry, oldest first.
func (s *Store) AuditEntries() []models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLogEntry(nil), s.st.audit...)
}

// AllTransactions returns every ledger entry, oldest first.
func (s *Store) AllTransactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Transaction(nil), s.st.txns...)
}

// SeedWallet stores w as-is, bypassing the ledger.
func (s *Store) SeedWallet(w models.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.wallets[w.UserID] = w
}

// SeedGiftCard stores g as-is.
func (s *Store) SeedGiftCard(g models.GiftCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	s.st.giftCards[g.Code] = g
}
