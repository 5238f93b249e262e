package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

type MakerOrderRepo struct {
	pool *pgxpool.Pool
}

func NewMakerOrderRepo(pool *pgxpool.Pool) *MakerOrderRepo {
	return &MakerOrderRepo{pool: pool}
}

const makerOrderColumns = `id, order_id, maker_id, status, carrier, tracking_number, assigned_at, updated_at`

func scanMakerOrder(row pgx.Row) (*models.MakerOrder, error) {
	var (
		m                        models.MakerOrder
		carrier, trackingNumber *string
	)
	if err := row.Scan(&m.ID, &m.OrderID, &m.MakerID, &m.Status, &carrier, &trackingNumber, &m.AssignedAt, &m.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if carrier != nil || trackingNumber != nil {
		m.Tracking = &models.TrackingInfo{}
		if carrier != nil {
			m.Tracking.Carrier = *carrier
		}
		if trackingNumber != nil {
			m.Tracking.TrackingNumber = *trackingNumber
		}
	}
	return &m, nil
}

func trackingArgs(t *models.TrackingInfo) (carrier, number *string) {
	if t == nil {
		return nil, nil
	}
	return &t.Carrier, &t.TrackingNumber
}

func (r *MakerOrderRepo) CreateTx(ctx context.Context, tx pgx.Tx, m *models.MakerOrder) error {
	carrier, number := trackingArgs(m.Tracking)
	return tx.QueryRow(ctx, `
		INSERT INTO maker_orders (id, order_id, maker_id, status, carrier, tracking_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING assigned_at, updated_at
	`, m.ID, m.OrderID, m.MakerID, m.Status, carrier, number).Scan(&m.AssignedAt, &m.UpdatedAt)
}

func (r *MakerOrderRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.MakerOrder, error) {
	return scanMakerOrder(r.pool.QueryRow(ctx, `SELECT `+makerOrderColumns+` FROM maker_orders WHERE order_id = $1`, orderID))
}

func (r *MakerOrderRepo) GetByOrderIDForUpdateTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.MakerOrder, error) {
	return scanMakerOrder(tx.QueryRow(ctx, `SELECT `+makerOrderColumns+` FROM maker_orders WHERE order_id = $1 FOR UPDATE`, orderID))
}

// UpdateTx persists the status and tracking info.
func (r *MakerOrderRepo) UpdateTx(ctx context.Context, tx pgx.Tx, m *models.MakerOrder) error {
	carrier, number := trackingArgs(m.Tracking)
	return tx.QueryRow(ctx, `
		UPDATE maker_orders SET status = $2, carrier = $3, tracking_number = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, m.ID, m.Status, carrier, number).Scan(&m.UpdatedAt)
}
