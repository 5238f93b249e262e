// Package fulfillment drives orders from payment to delivery. Status moves
// are checked against explicit transition tables and every move appends a
// status history row in the same transaction.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makerhub/backend/internal/audit"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/jobs"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/repository"
)

// SystemActor is recorded as the actor for moves made by a collaborator
// service rather than a person.
var SystemActor = uuid.Nil

type OrderRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, o *models.Order) error
	AppendHistoryTx(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.StatusChange, error)
}

type MakerOrderRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, m *models.MakerOrder) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.MakerOrder, error)
	GetByOrderIDForUpdateTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.MakerOrder, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, m *models.MakerOrder) error
}

type Ledger interface {
	ApplyTx(ctx context.Context, tx pgx.Tx, req ledger.ApplyRequest) (*ledger.Result, error)
}

type Auditor interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) (*models.AuditLogEntry, error)
}

type Service struct {
	db           database.TxBeginner
	orders       OrderRepo
	makers       MakerOrderRepo
	ledger       Ledger
	audit        Auditor
	insertRefund jobs.InsertRefundTxFunc
	refunds      RefundPolicy
	retry        database.RetryPolicy
	logger       *slog.Logger
}

// Deps groups the collaborators of the fulfillment service.
type Deps struct {
	DB           database.TxBeginner
	Orders       OrderRepo
	MakerOrders  MakerOrderRepo
	Ledger       Ledger
	Audit        Auditor
	InsertRefund jobs.InsertRefundTxFunc
	Refunds      RefundPolicy
	Retry        database.RetryPolicy
	Logger       *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Refunds.Schedule == nil {
		d.Refunds.Schedule = DefaultRefundSchedule
	}
	return &Service{
		db:           d.DB,
		orders:       d.Orders,
		makers:       d.MakerOrders,
		ledger:       d.Ledger,
		audit:        d.Audit,
		insertRefund: d.InsertRefund,
		refunds:      d.Refunds,
		retry:        d.Retry,
		logger:       d.Logger,
	}
}

func (s *Service) lockOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	o, err := s.orders.GetForUpdateTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (s *Service) lockMaker(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.MakerOrder, error) {
	m, err := s.makers.GetByOrderIDForUpdateTx(ctx, tx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock maker order: %w", err)
	}
	return m, nil
}

// moveTx sets the order status and appends the history row.
func (s *Service) moveTx(ctx context.Context, tx pgx.Tx, o *models.Order, to models.OrderStatus, actor uuid.UUID, notes string) error {
	from := o.Status
	o.Status = to
	if err := s.orders.UpdateStatusTx(ctx, tx, o); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if err := s.orders.AppendHistoryTx(ctx, tx, &models.StatusChange{
		ID:         uuid.New(),
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor,
		Notes:      notes,
	}); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	s.logger.InfoContext(ctx, "order status changed", "order_id", o.ID, "from", from, "to", to, "actor_id", actor)
	return nil
}

type CreateOrderRequest struct {
	UserID          uuid.UUID
	Total           int64
	PaymentMethod   string
	ShippingAddress string
}

// CreateOrder records a new order awaiting payment.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	if req.Total <= 0 || req.ShippingAddress == "" ||
		(req.PaymentMethod != models.PaymentCredits && req.PaymentMethod != models.PaymentCard) {
		return nil, ErrInvalidOrder
	}
	o := &models.Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Total:           req.Total,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
	}
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		o.Status = models.OrderPendingPayment
		if err := s.orders.CreateTx(ctx, tx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return s.orders.AppendHistoryTx(ctx, tx, &models.StatusChange{
			ID:       uuid.New(),
			OrderID:  o.ID,
			ToStatus: models.OrderPendingPayment,
			ActorID:  req.UserID,
			Notes:    "order placed",
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, o.ID)
}

// ConfirmPayment moves the order to paid. Orders paid with credits are
// charged through the ledger in the same transaction, keyed by the order id.
func (s *Service) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := OrderMachine.Check(o.Status, models.OrderPaid); err != nil {
			return err
		}
		if o.PaymentMethod == models.PaymentCredits {
			res, err := s.ledger.ApplyTx(ctx, tx, ledger.ApplyRequest{
				UserID:      o.UserID,
				Type:        models.TransactionSpend,
				Amount:      -o.Total,
				Description: "order " + o.ID.String(),
				ReferenceID: o.ID.String(),
			})
			if err != nil {
				return err
			}
			// The charge must be this buyer's, for this total.
			if res.Transaction.UserID != o.UserID || res.Transaction.Amount != -o.Total {
				return fmt.Errorf("%w: order %s", ledger.ErrReferenceConflict, o.ID)
			}
		}
		now := time.Now().UTC()
		o.PaymentConfirmedAt = &now
		return s.moveTx(ctx, tx, o, models.OrderPaid, SystemActor, "payment confirmed via "+o.PaymentMethod)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// AssignMaker hands a paid order to a fulfiller.
func (s *Service) AssignMaker(ctx context.Context, orderID, makerID, adminID uuid.UUID) (*models.Order, error) {
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := OrderMachine.Check(o.Status, models.OrderAssigned); err != nil {
			return err
		}
		before := o.Snapshot()
		m := &models.MakerOrder{
			ID:      uuid.New(),
			OrderID: o.ID,
			MakerID: makerID,
			Status:  models.OrderAssigned,
		}
		if err := s.makers.CreateTx(ctx, tx, m); err != nil {
			if database.IsUniqueViolation(err) {
				return &InvalidTransitionError{Machine: MakerMachine.name, From: models.OrderAssigned, To: models.OrderAssigned}
			}
			return fmt.Errorf("insert maker order: %w", err)
		}
		o.Maker = m
		if err := s.moveTx(ctx, tx, o, models.OrderAssigned, adminID, "assigned to maker "+makerID.String()); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, audit.Entry{
			AdminID:    adminID,
			Action:     models.AuditOrderAssign,
			TargetType: models.AuditTargetOrder,
			TargetID:   o.ID.String(),
			Before:     before,
			After:      o.Snapshot(),
			Reason:     "assigned to maker " + makerID.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// MakerUpdate is a fulfiller's status report for one order.
type MakerUpdate struct {
	OrderID        uuid.UUID
	MakerID        uuid.UUID
	Status         models.OrderStatus
	Notes          string
	TrackingNumber string
	Carrier        string
}

// MakerUpdateStatus advances the maker order and mirrors it on the order.
// Fulfillers may move to in_production or shipped only; shipping needs a
// tracking number and carrier.
func (s *Service) MakerUpdateStatus(ctx context.Context, u MakerUpdate) (*models.Order, error) {
	switch u.Status {
	case models.OrderInProduction:
	case models.OrderShipped:
		u.TrackingNumber = strings.TrimSpace(u.TrackingNumber)
		u.Carrier = strings.TrimSpace(u.Carrier)
		if u.TrackingNumber == "" || u.Carrier == "" {
			return nil, ErrMissingTrackingInfo
		}
	case models.OrderCompleted:
		return nil, ErrNotPermitted
	default:
		return nil, &InvalidTransitionError{Machine: MakerMachine.name, To: u.Status}
	}

	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, u.OrderID)
		if err != nil {
			return err
		}
		m, err := s.lockMaker(ctx, tx, u.OrderID)
		if err != nil {
			return err
		}
		if m == nil || m.MakerID != u.MakerID {
			return ErrNotPermitted
		}
		if err := MakerMachine.Check(m.Status, u.Status); err != nil {
			return err
		}
		if err := OrderMachine.Check(o.Status, u.Status); err != nil {
			return err
		}
		m.Status = u.Status
		if u.Status == models.OrderShipped {
			m.Tracking = &models.TrackingInfo{Carrier: u.Carrier, TrackingNumber: u.TrackingNumber}
		}
		if err := s.makers.UpdateTx(ctx, tx, m); err != nil {
			return fmt.Errorf("update maker order: %w", err)
		}
		return s.moveTx(ctx, tx, o, u.Status, u.MakerID, strings.TrimSpace(u.Notes))
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, u.OrderID)
}

// ConfirmDelivery completes a shipped order.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, adminID uuid.UUID) (*models.Order, error) {
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		o, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		m, err := s.lockMaker(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if m == nil {
			return &InvalidTransitionError{Machine: MakerMachine.name, From: o.Status, To: models.OrderCompleted}
		}
		if err := MakerMachine.Check(m.Status, models.OrderCompleted); err != nil {
			return err
		}
		if err := OrderMachine.Check(o.Status, models.OrderCompleted); err != nil {
			return err
		}
		o.Maker = m
		before := o.Snapshot()
		m.Status = models.OrderCompleted
		if err := s.makers.UpdateTx(ctx, tx, m); err != nil {
			return fmt.Errorf("update maker order: %w", err)
		}
		if err := s.moveTx(ctx, tx, o, models.OrderCompleted, adminID, "delivery confirmed"); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, audit.Entry{
			AdminID:    adminID,
			Action:     models.AuditOrderComplete,
			TargetType: models.AuditTargetOrder,
			TargetID:   o.ID.String(),
			Before:     before,
			After:      o.Snapshot(),
			Reason:     "delivery confirmed",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

type CancelResult struct {
	Order        *models.Order
	RefundAmount int64
}

// Cancel stops an order before it ships. A paid order gets a refund job,
// enqueued in the same transaction, for the share the refund schedule
// allows at the status it was cancelled from.
func (s *Service) Cancel(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*CancelResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	var refund int64
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		refund = 0
		o, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := OrderMachine.Check(o.Status, models.OrderCancelled); err != nil {
			return err
		}
		if o.Maker, err = s.lockMaker(ctx, tx, orderID); err != nil {
			return err
		}
		from := o.Status
		before := o.Snapshot()
		if err := s.moveTx(ctx, tx, o, models.OrderCancelled, adminID, reason); err != nil {
			return err
		}
		if _, err := s.audit.RecordTx(ctx, tx, audit.Entry{
			AdminID:    adminID,
			Action:     models.AuditOrderCancel,
			TargetType: models.AuditTargetOrder,
			TargetID:   o.ID.String(),
			Before:     before,
			After:      o.Snapshot(),
			Reason:     reason,
		}); err != nil {
			return err
		}
		if o.PaymentConfirmedAt == nil {
			return nil
		}
		refund = s.refunds.Amount(from, o.Total)
		if refund == 0 {
			return nil
		}
		if err := s.insertRefund(ctx, tx, jobs.RefundOrderArgs{OrderID: o.ID, UserID: o.UserID, Amount: refund}); err != nil {
			return fmt.Errorf("enqueue refund: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "admin_id", adminID, "refund", refund)
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &CancelResult{Order: o, RefundAmount: refund}, nil
}

// Get returns the order with its status history and maker order.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o.StatusHistory, err = s.orders.ListHistory(ctx, orderID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	m, err := s.makers.GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		o.Maker = m
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("get maker order: %w", err)
	}
	return o, nil
}

// GetForViewer returns the order if the viewer placed it, fulfils it or is
// an admin. Anyone else sees ErrOrderNotFound.
func (s *Service) GetForViewer(ctx context.Context, orderID, viewerID uuid.UUID, isAdmin bool) (*models.Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if isAdmin || o.UserID == viewerID || (o.Maker != nil && o.Maker.MakerID == viewerID) {
		return o, nil
	}
	return nil, ErrOrderNotFound
}
