package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, user_id, status, total, payment_method, shipping_address, payment_confirmed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.PaymentMethod, &o.ShippingAddress, &o.PaymentConfirmedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *OrderRepo) CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	return tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, status, total, payment_method, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, o.ID, o.UserID, o.Status, o.Total, o.PaymentMethod, o.ShippingAddress).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetForUpdateTx locks the order row for the rest of the transaction.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

// UpdateStatusTx persists Status and PaymentConfirmedAt.
func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	return tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, payment_confirmed_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, o.ID, o.Status, o.PaymentConfirmedAt).Scan(&o.UpdatedAt)
}

// AppendHistoryTx inserts one status history row.
func (r *OrderRepo) AppendHistoryTx(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error {
	return tx.QueryRow(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, actor_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.OrderID, c.FromStatus, c.ToStatus, c.ActorID, c.Notes).Scan(&c.CreatedAt)
}

// ListHistory returns the order's status history, oldest first.
func (r *OrderRepo) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_id, notes, created_at
		FROM order_status_history WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.StatusChange{}
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.FromStatus, &c.ToStatus, &c.ActorID, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
