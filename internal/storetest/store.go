// Package storetest provides an in-memory stand-in for the Postgres
// repositories so services can be tested without a database.
//
// Transactions are serialized: Begin takes a store-wide lock that is held
// until Commit or Rollback, and Rollback restores the state captured at
// Begin. That is enough to model row locks and atomicity for unit tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/makerhub/backend/internal/models"
)

type state struct {
	wallets   map[uuid.UUID]models.Wallet
	txns      []models.Transaction
	giftCards map[string]models.GiftCard
	orders    map[uuid.UUID]models.Order
	history   []models.StatusChange
	makers    map[uuid.UUID]models.MakerOrder
	audit     []models.AuditLogEntry
	apiKeys   map[string]models.APIKey
	jobs      []any
}

func newState() state {
	return state{
		wallets:   map[uuid.UUID]models.Wallet{},
		giftCards: map[string]models.GiftCard{},
		orders:    map[uuid.UUID]models.Order{},
		makers:    map[uuid.UUID]models.MakerOrder{},
		apiKeys:   map[string]models.APIKey{},
	}
}

func (s state) clone() state {
	c := state{
		wallets:   make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		txns:      append([]models.Transaction(nil), s.txns...),
		giftCards: make(map[string]models.GiftCard, len(s.giftCards)),
		orders:    make(map[uuid.UUID]models.Order, len(s.orders)),
		history:   append([]models.StatusChange(nil), s.history...),
		makers:    make(map[uuid.UUID]models.MakerOrder, len(s.makers)),
		audit:     append([]models.AuditLogEntry(nil), s.audit...),
		apiKeys:   make(map[string]models.APIKey, len(s.apiKeys)),
		jobs:      append([]any(nil), s.jobs...),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.giftCards {
		c.giftCards[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.makers {
		c.makers[k] = v
	}
	for k, v := range s.apiKeys {
		c.apiKeys[k] = v
	}
	return c
}

// Store holds all tables. Use the repo fields with the services under test.
type Store struct {
	txMu sync.Mutex // held for the life of a transaction
	mu   sync.Mutex // guards st, faults and the counters
	st   state

	faults map[string][]error
	clock  time.Time

	begins, commits, rollbacks int

	Wallets      *WalletRepo
	Transactions *TransactionRepo
	GiftCards    *GiftCardRepo
	Orders       *OrderRepo
	MakerOrders  *MakerOrderRepo
	Audit        *AuditRepo
	APIKeys      *APIKeyRepo
}

func New() *Store {
	s := &Store{
		st:     newState(),
		faults: map[string][]error{},
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.Wallets = &WalletRepo{s: s}
	s.Transactions = &TransactionRepo{s: s}
	s.GiftCards = &GiftCardRepo{s: s}
	s.Orders = &OrderRepo{s: s}
	s.MakerOrders = &MakerOrderRepo{s: s}
	s.Audit = &AuditRepo{s: s}
	s.APIKeys = &APIKeyRepo{s: s}
	return s
}

// Fail queues err to be returned by the next call of op. Ops are named
// "<table>.<method>", for example "transactions.create" or "audit.create",
// plus "begin" and "commit".
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// fault pops a queued error for op. Caller holds s.mu.
func (s *Store) fault(op string) error {
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	s.faults[op] = q[1:]
	return q[0]
}

// now returns a strictly increasing timestamp. Caller holds s.mu.
func (s *Store) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

// Counts reports how many transactions were begun, committed and rolled back.
func (s *Store) Counts() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

// Begin starts a serialized fake transaction.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txMu.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("begin"); err != nil {
		s.txMu.Unlock()
		return nil, err
	}
	s.begins++
	return &fakeTx{s: s, snapshot: s.st.clone()}, nil
}

// Enqueue records a background job as part of tx. It is discarded if tx rolls back.
func (s *Store) Enqueue(_ context.Context, _ pgx.Tx, args any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("jobs.insert"); err != nil {
		return err
	}
	s.st.jobs = append(s.st.jobs, args)
	return nil
}

// Jobs returns the committed background jobs in insertion order.
func (s *Store) Jobs() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.st.jobs...)
}

// fakeTx embeds pgx.Tx so it satisfies the interface; only Commit and
// Rollback are implemented. Anything else panics on the nil embed.
type fakeTx struct {
	pgx.Tx
	s        *Store
	snapshot state
	done     bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.s.txMu.Unlock()
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.fault("commit"); err != nil {
		t.s.st = t.snapshot
		t.s.rollbacks++
		return err
	}
	t.s.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.s.txMu.Unlock()
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.st = t.snapshot
	t.s.rollbacks++
	return nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}
