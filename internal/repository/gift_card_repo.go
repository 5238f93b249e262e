package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

type GiftCardRepo struct {
	pool *pgxpool.Pool
}

func NewGiftCardRepo(pool *pgxpool.Pool) *GiftCardRepo {
	return &GiftCardRepo{pool: pool}
}

const giftCardColumns = `code, credits_value, status, issued_by, redeemed_by, redeemed_at, expires_at, created_at`

func scanGiftCard(row pgx.Row) (*models.GiftCard, error) {
	var g models.GiftCard
	if err := row.Scan(&g.Code, &g.CreditsValue, &g.Status, &g.IssuedBy, &g.RedeemedBy, &g.RedeemedAt, &g.ExpiresAt, &g.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (r *GiftCardRepo) CreateTx(ctx context.Context, tx pgx.Tx, g *models.GiftCard) error {
	return tx.QueryRow(ctx, `
		INSERT INTO gift_cards (code, credits_value, status, issued_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, g.Code, g.CreditsValue, g.Status, g.IssuedBy, g.ExpiresAt).Scan(&g.CreatedAt)
}

func (r *GiftCardRepo) GetByCode(ctx context.Context, code string) (*models.GiftCard, error) {
	return scanGiftCard(r.pool.QueryRow(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1`, code))
}

// GetForUpdateTx locks the card row for the rest of the transaction.
func (r *GiftCardRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, code string) (*models.GiftCard, error) {
	return scanGiftCard(tx.QueryRow(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1 FOR UPDATE`, code))
}

// MarkRedeemedTx flips an issued card to redeemed. It reports false when the
// card was no longer issued, so the check and the write cannot be separated.
func (r *GiftCardRepo) MarkRedeemedTx(ctx context.Context, tx pgx.Tx, code string, userID uuid.UUID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE gift_cards SET status = 'redeemed', redeemed_by = $2, redeemed_at = $3
		WHERE code = $1 AND status = 'issued'
	`, code, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVoidTx flips an issued card to void, reporting false if it was not issued.
func (r *GiftCardRepo) MarkVoidTx(ctx context.Context, tx pgx.Tx, code string) (bool, error) {
	tag, err := tx.Exec(ctx, `UPDATE gift_cards SET status = 'void' WHERE code = $1 AND status = 'issued'`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireIssuedBefore marks every issued card whose expiry is at or before now.
func (r *GiftCardRepo) ExpireIssuedBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE gift_cards SET status = 'expired'
		WHERE status = 'issued' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
