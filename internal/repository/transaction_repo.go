package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

// TransactionRepo is append-only: there is no update or delete.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, user_id, type, amount, balance_after, description, reference_id, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &t.ReferenceID, &t.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, balance_after, description, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, t.ID, t.UserID, t.Type, t.Amount, t.BalanceAfter, t.Description, t.ReferenceID).Scan(&t.CreatedAt)
}

// FindByReferenceTx returns the entry recorded for (type, reference), if any.
func (r *TransactionRepo) FindByReferenceTx(ctx context.Context, tx pgx.Tx, typ models.TransactionType, referenceID string) (*models.Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE type = $1 AND reference_id = $2
	`, typ, referenceID))
}

// ListByUserID returns a page of the user's entries, newest first.
func (r *TransactionRepo) ListByUserID(ctx context.Context, userID uuid.UUID, page models.Page) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SumByUserIDTx returns the sum of amounts and the entry count for the user.
func (r *TransactionRepo) SumByUserIDTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (sum int64, count int64, err error) {
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM transactions WHERE user_id = $1
	`, userID).Scan(&sum, &count)
	return sum, count, err
}
