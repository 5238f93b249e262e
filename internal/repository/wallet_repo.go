package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = `user_id, balance, lifetime_earned, lifetime_spent, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.UserID, &w.Balance, &w.LifetimeEarned, &w.LifetimeSpent, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

// EnsureTx creates an empty wallet for the user if none exists yet.
func (r *WalletRepo) EnsureTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

// GetForUpdateTx locks the wallet row for the rest of the transaction.
func (r *WalletRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

// UpdateTx writes the balance and running totals. Call after GetForUpdateTx in same tx.
func (r *WalletRepo) UpdateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	return tx.QueryRow(ctx, `
		UPDATE wallets SET balance = $2, lifetime_earned = $3, lifetime_spent = $4, updated_at = now()
		WHERE user_id = $1
		RETURNING updated_at
	`, w.UserID, w.Balance, w.LifetimeEarned, w.LifetimeSpent).Scan(&w.UpdatedAt)
}
