// Package jobs holds the River background jobs: refunds for cancelled
// orders and the gift card expiry sweep.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/makerhub/backend/internal/apperr"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/models"
)

// RefundOrderArgs credits a cancelled order's refund back to its buyer.
type RefundOrderArgs struct {
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
	Amount  int64     `json:"amount"`
}

func (RefundOrderArgs) Kind() string { return "refund_order" }

func (RefundOrderArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 25}
}

// InsertRefundTxFunc enqueues a refund within the given transaction, so the
// job exists only if the cancellation commits. Provided by main using
// river.Client.InsertTx.
type InsertRefundTxFunc func(ctx context.Context, tx pgx.Tx, args RefundOrderArgs) error

// Crediter applies a ledger entry in its own transaction.
type Crediter interface {
	Apply(ctx context.Context, req ledger.ApplyRequest) (*ledger.Result, error)
}

type RefundOrderWorker struct {
	river.WorkerDefaults[RefundOrderArgs]
	ledger Crediter
	logger *slog.Logger
}

func NewRefundOrderWorker(l Crediter, logger *slog.Logger) *RefundOrderWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundOrderWorker{ledger: l, logger: logger}
}

// Work credits the refund. The order id is the ledger reference, so a retried
// job after a committed credit replays instead of paying twice.
func (w *RefundOrderWorker) Work(ctx context.Context, job *river.Job[RefundOrderArgs]) error {
	args := job.Args
	res, err := w.ledger.Apply(ctx, ledger.ApplyRequest{
		UserID:      args.UserID,
		Type:        models.TransactionRefund,
		Amount:      args.Amount,
		Description: "refund for cancelled order " + args.OrderID.String(),
		ReferenceID: args.OrderID.String(),
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			// Retrying cannot fix bad arguments.
			return river.JobCancel(fmt.Errorf("refund order %s: %w", args.OrderID, err))
		}
		return fmt.Errorf("refund order %s: %w", args.OrderID, err)
	}
	if res.Replayed {
		w.logger.InfoContext(ctx, "refund already applied", "order_id", args.OrderID)
		return nil
	}
	w.logger.InfoContext(ctx, "order refunded",
		"order_id", args.OrderID, "user_id", args.UserID, "amount", args.Amount, "new_balance", res.NewBalance)
	return nil
}
