// Package ledger is the only writer of wallet balances. Every balance change
// goes through ApplyTx, which updates the wallet and appends the matching
// transaction row in the caller's database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/repository"
)

// WalletRepo is the wallet storage the engine needs.
type WalletRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	EnsureTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
}

// TransactionRepo is the append-only transaction storage the engine needs.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	FindByReferenceTx(ctx context.Context, tx pgx.Tx, typ models.TransactionType, referenceID string) (*models.Transaction, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, page models.Page) ([]*models.Transaction, error)
	SumByUserIDTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (sum int64, count int64, err error)
}

type Engine struct {
	db           database.TxBeginner
	wallets      WalletRepo
	transactions TransactionRepo
	retry        database.RetryPolicy
	logger       *slog.Logger
}

func NewEngine(db database.TxBeginner, wallets WalletRepo, transactions TransactionRepo, retry database.RetryPolicy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, wallets: wallets, transactions: transactions, retry: retry, logger: logger}
}

// ApplyRequest describes one balance change. Amount is signed: positive
// credits the wallet, negative debits it.
type ApplyRequest struct {
	UserID      uuid.UUID
	Type        models.TransactionType
	Amount      int64
	Description string
	ReferenceID string
}

func (r ApplyRequest) validate() error {
	if r.Amount == 0 || r.Amount == math.MinInt64 {
		return ErrInvalidAmount
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, r.Type)
	}
	return nil
}

// Result is the outcome of ApplyTx. Before is the wallet as locked, Wallet
// as written. Replayed is set when the reference had already been applied
// for the same user and amount; Transaction is then the original entry and
// the wallet is unchanged.
type Result struct {
	Transaction *models.Transaction
	NewBalance  int64
	Before      models.Wallet
	Wallet      models.Wallet
	Replayed    bool
}

// Apply runs ApplyTx in its own transaction, retrying on lock conflicts.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var res *Result
	err := database.RunInTx(ctx, e.db, e.retry, func(tx pgx.Tx) error {
		var err error
		res, err = e.ApplyTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyTx locks the user's wallet, applies the amount and appends a
// transaction whose balance_after equals the new balance. Call within a
// transaction; nothing is visible until the caller commits.
func (e *Engine) ApplyTx(ctx context.Context, tx pgx.Tx, req ApplyRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Description = strings.TrimSpace(req.Description)

	// Wallets are created lazily, and only by an event that credits them.
	if req.Amount > 0 {
		if err := e.wallets.EnsureTx(ctx, tx, req.UserID); err != nil {
			return nil, fmt.Errorf("ensure wallet: %w", err)
		}
	}
	w, err := e.lockWallet(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	before := *w

	if req.ReferenceID != "" {
		prev, err := e.transactions.FindByReferenceTx(ctx, tx, req.Type, req.ReferenceID)
		switch {
		case err == nil:
			if prev.UserID != req.UserID || prev.Amount != req.Amount {
				e.logger.WarnContext(ctx, "ledger reference reused for a different entry",
					"user_id", req.UserID, "type", req.Type, "reference_id", req.ReferenceID,
					"existing_user_id", prev.UserID, "existing_amount", prev.Amount, "amount", req.Amount)
				return nil, fmt.Errorf("%w: %s %q", ErrReferenceConflict, req.Type, req.ReferenceID)
			}
			e.logger.DebugContext(ctx, "ledger reference already applied",
				"user_id", req.UserID, "type", req.Type, "reference_id", req.ReferenceID)
			return &Result{Transaction: prev, NewBalance: w.Balance, Before: before, Wallet: *w, Replayed: true}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("lookup reference: %w", err)
		}
	}

	if req.Amount > 0 && (w.Balance > math.MaxInt64-req.Amount || w.LifetimeEarned > math.MaxInt64-req.Amount) {
		return nil, fmt.Errorf("%w: overflow", ErrInvalidAmount)
	}
	newBalance := w.Balance + req.Amount
	if newBalance < 0 {
		e.logger.DebugContext(ctx, "spend rejected", "user_id", req.UserID, "balance", w.Balance, "amount", req.Amount)
		return nil, &InsufficientBalanceError{UserID: req.UserID, Balance: w.Balance, Requested: -req.Amount}
	}
	if req.Amount > 0 {
		w.LifetimeEarned += req.Amount
	} else {
		w.LifetimeSpent -= req.Amount
	}
	w.Balance = newBalance
	if !w.Consistent() {
		e.logger.ErrorContext(ctx, "wallet totals disagree with balance",
			"invariant_violation", true, "user_id", w.UserID, "balance", w.Balance,
			"lifetime_earned", w.LifetimeEarned, "lifetime_spent", w.LifetimeSpent)
		return nil, ErrInvariantViolation
	}
	if err := e.wallets.UpdateTx(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}

	entry := &models.Transaction{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Type:         req.Type,
		Amount:       req.Amount,
		BalanceAfter: newBalance,
		Description:  req.Description,
	}
	if req.ReferenceID != "" {
		ref := req.ReferenceID
		entry.ReferenceID = &ref
	}
	if err := e.transactions.CreateTx(ctx, tx, entry); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &Result{Transaction: entry, NewBalance: newBalance, Before: before, Wallet: *w}, nil
}

func (e *Engine) lockWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	w, err := e.wallets.GetForUpdateTx(ctx, tx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

// Wallet returns the user's wallet, or a zero wallet if none exists yet.
func (e *Engine) Wallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	w, err := e.wallets.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return *w, nil
}

// History returns the user's transactions, newest first.
func (e *Engine) History(ctx context.Context, userID uuid.UUID, page models.Page) ([]*models.Transaction, error) {
	list, err := e.transactions.ListByUserID(ctx, userID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return list, nil
}

// Verification compares a wallet with the sum of its transactions.
type Verification struct {
	Wallet     models.Wallet `json:"wallet"`
	LedgerSum  int64         `json:"ledger_sum"`
	Entries    int64         `json:"entries"`
	Consistent bool          `json:"consistent"`
}

// Verify recomputes the user's balance from the transaction history. A
// mismatch is reported as ErrInvariantViolation together with the
// verification; nothing is corrected.
func (e *Engine) Verify(ctx context.Context, userID uuid.UUID) (*Verification, error) {
	var v Verification
	err := database.RunInTx(ctx, e.db, e.retry, func(tx pgx.Tx) error {
		w, err := e.lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, n, err := e.transactions.SumByUserIDTx(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("sum transactions: %w", err)
		}
		v = Verification{Wallet: *w, LedgerSum: sum, Entries: n}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.Consistent = v.Wallet.Consistent() && v.Wallet.Balance == v.LedgerSum
	if !v.Consistent {
		e.logger.ErrorContext(ctx, "wallet disagrees with transaction history",
			"invariant_violation", true, "user_id", userID,
			"balance", v.Wallet.Balance, "ledger_sum", v.LedgerSum,
			"lifetime_earned", v.Wallet.LifetimeEarned, "lifetime_spent", v.Wallet.LifetimeSpent)
		return &v, ErrInvariantViolation
	}
	return &v, nil
}
