package fulfillment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerhub/backend/internal/apperr"
	"github.com/makerhub/backend/internal/audit"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/fulfillment"
	"github.com/makerhub/backend/internal/jobs"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/storetest"
)

type fixture struct {
	store  *storetest.Store
	engine *ledger.Engine
	svc    *fulfillment.Service
	admin  uuid.UUID
	buyer  uuid.UUID
	maker  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New()
	retry := database.RetryPolicy{MaxAttempts: 2}
	engine := ledger.NewEngine(s, s.Wallets, s.Transactions, retry, nil)
	svc := fulfillment.NewService(fulfillment.Deps{
		DB:          s,
		Orders:      s.Orders,
		MakerOrders: s.MakerOrders,
		Ledger:      engine,
		Audit:       audit.NewService(s.Audit, nil),
		InsertRefund: func(ctx context.Context, tx pgx.Tx, args jobs.RefundOrderArgs) error {
			return s.Enqueue(ctx, tx, args)
		},
		Retry: retry,
	})
	return &fixture{store: s, engine: engine, svc: svc, admin: uuid.New(), buyer: uuid.New(), maker: uuid.New()}
}

func (f *fixture) order(t *testing.T, method string, total int64) *models.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), fulfillment.CreateOrderRequest{
		UserID: f.buyer, Total: total, PaymentMethod: method, ShippingAddress: "1 Workshop Lane",
	})
	require.NoError(t, err)
	return o
}

// advance takes a new card-paid order to the given maker status.
func (f *fixture) advance(t *testing.T, to models.OrderStatus) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := f.order(t, models.PaymentCard, 1000)
	_, err := f.svc.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)
	o, err = f.svc.AssignMaker(ctx, o.ID, f.maker, f.admin)
	require.NoError(t, err)
	if to == models.OrderAssigned {
		return o
	}
	o, err = f.svc.MakerUpdateStatus(ctx, fulfillment.MakerUpdate{OrderID: o.ID, MakerID: f.maker, Status: models.OrderInProduction})
	require.NoError(t, err)
	if to == models.OrderInProduction {
		return o
	}
	o, err = f.svc.MakerUpdateStatus(ctx, fulfillment.MakerUpdate{
		OrderID: o.ID, MakerID: f.maker, Status: models.OrderShipped, TrackingNumber: "1Z999", Carrier: "UPS",
	})
	require.NoError(t, err)
	return o
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, models.PaymentCredits, 300)
	assert.Equal(t, models.OrderPendingPayment, o.Status)
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, models.OrderPendingPayment, o.StatusHistory[0].ToStatus)

	_, err := f.svc.CreateOrder(context.Background(), fulfillment.CreateOrderRequest{UserID: f.buyer, Total: 0, PaymentMethod: models.PaymentCard, ShippingAddress: "x"})
	assert.ErrorIs(t, err, fulfillment.ErrInvalidOrder)
	_, err = f.svc.CreateOrder(context.Background(), fulfillment.CreateOrderRequest{UserID: f.buyer, Total: 10, PaymentMethod: "cash", ShippingAddress: "x"})
	assert.ErrorIs(t, err, fulfillment.ErrInvalidOrder)
}

func TestConfirmPayment_WithCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Apply(ctx, ledger.ApplyRequest{UserID: f.buyer, Type: models.TransactionPurchase, Amount: 500})
	require.NoError(t, err)

	o := f.order(t, models.PaymentCredits, 300)
	o, err = f.svc.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, o.Status)
	assert.NotNil(t, o.PaymentConfirmedAt)

	w, err := f.engine.Wallet(ctx, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(200), w.Balance)

	_, err = f.svc.ConfirmPayment(ctx, o.ID)
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)
	w, _ = f.engine.Wallet(ctx, f.buyer)
	assert.Equal(t, int64(200), w.Balance, "second confirmation must not charge again")
}

func TestConfirmPayment_InsufficientCreditsLeavesOrderUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, models.PaymentCredits, 300)

	_, err := f.svc.ConfirmPayment(ctx, o.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	o, err = f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPendingPayment, o.Status)
	assert.Nil(t, o.PaymentConfirmedAt)
	assert.Len(t, o.StatusHistory, 1)
}

func TestConfirmPayment_ChargeUnderAnotherUserIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, models.PaymentCredits, 300)

	// Someone else spends against the order's reference first.
	other := uuid.New()
	_, err := f.engine.Apply(ctx, ledger.ApplyRequest{UserID: other, Type: models.TransactionPurchase, Amount: 5})
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, ledger.ApplyRequest{UserID: other, Type: models.TransactionSpend, Amount: -1, ReferenceID: o.ID.String()})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, o.ID)
	require.ErrorIs(t, err, ledger.ErrReferenceConflict)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	o, err = f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPendingPayment, o.Status)
	assert.Nil(t, o.PaymentConfirmedAt)
	w, err := f.engine.Wallet(ctx, f.buyer)
	require.NoError(t, err)
	assert.Zero(t, w.Balance)
}

// replayingLedger reports every charge as an earlier entry it was handed.
type replayingLedger struct {
	prior *models.Transaction
}

func (l replayingLedger) ApplyTx(_ context.Context, _ pgx.Tx, _ ledger.ApplyRequest) (*ledger.Result, error) {
	return &ledger.Result{Transaction: l.prior, NewBalance: l.prior.BalanceAfter, Replayed: true}, nil
}

func TestConfirmPayment_ReplayMustMatchBuyerAndTotal(t *testing.T) {
	s := storetest.New()
	buyer := uuid.New()
	cases := map[string]*models.Transaction{
		"other user":   {ID: uuid.New(), UserID: uuid.New(), Type: models.TransactionSpend, Amount: -300},
		"other amount": {ID: uuid.New(), UserID: buyer, Type: models.TransactionSpend, Amount: -1},
	}
	for name, prior := range cases {
		t.Run(name, func(t *testing.T) {
			svc := fulfillment.NewService(fulfillment.Deps{
				DB:          s,
				Orders:      s.Orders,
				MakerOrders: s.MakerOrders,
				Ledger:      replayingLedger{prior: prior},
				Audit:       audit.NewService(s.Audit, nil),
				InsertRefund: func(ctx context.Context, tx pgx.Tx, args jobs.RefundOrderArgs) error {
					return s.Enqueue(ctx, tx, args)
				},
				Retry: database.RetryPolicy{MaxAttempts: 1},
			})
			ctx := context.Background()
			o, err := svc.CreateOrder(ctx, fulfillment.CreateOrderRequest{
				UserID: buyer, Total: 300, PaymentMethod: models.PaymentCredits, ShippingAddress: "1 Workshop Lane",
			})
			require.NoError(t, err)

			_, err = svc.ConfirmPayment(ctx, o.ID)
			require.ErrorIs(t, err, ledger.ErrReferenceConflict)
			o, err = svc.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderPendingPayment, o.Status)
		})
	}
}

func TestMakerUpdate_ShipWithoutTracking(t *testing.T) {
	f := newFixture(t)
	o := f.advance(t, models.OrderAssigned)

	_, err := f.svc.MakerUpdateStatus(context.Background(), fulfillment.MakerUpdate{OrderID: o.ID, MakerID: f.maker, Status: models.OrderShipped})
	require.ErrorIs(t, err, fulfillment.ErrMissingTrackingInfo)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	o, err = f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAssigned, o.Status)
	assert.Equal(t, models.OrderAssigned, o.Maker.Status)
}

func TestMakerUpdate_SkipToShippedIsInvalid(t *testing.T) {
	f := newFixture(t)
	o := f.advance(t, models.OrderAssigned)

	_, err := f.svc.MakerUpdateStatus(context.Background(), fulfillment.MakerUpdate{
		OrderID: o.ID, MakerID: f.maker, Status: models.OrderShipped, TrackingNumber: "123", Carrier: "CarrierX",
	})
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)
}

func TestMakerUpdate_ShipOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.advance(t, models.OrderInProduction)
	historyBefore := len(o.StatusHistory)

	ship := fulfillment.MakerUpdate{OrderID: o.ID, MakerID: f.maker, Status: models.OrderShipped, TrackingNumber: "123", Carrier: "CarrierX"}
	o, err := f.svc.MakerUpdateStatus(ctx, ship)
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, o.Status)
	require.NotNil(t, o.Maker.Tracking)
	assert.Equal(t, "123", o.Maker.Tracking.TrackingNumber)
	assert.Equal(t, "CarrierX", o.Maker.Tracking.Carrier)
	require.Len(t, o.StatusHistory, historyBefore+1)
	last := o.StatusHistory[len(o.StatusHistory)-1]
	assert.Equal(t, models.OrderInProduction, last.FromStatus)
	assert.Equal(t, models.OrderShipped, last.ToStatus)
	assert.Equal(t, f.maker, last.ActorID)

	_, err = f.svc.MakerUpdateStatus(ctx, ship)
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)
}

func TestMakerUpdate_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.advance(t, models.OrderShipped)

	_, err := f.svc.MakerUpdateStatus(ctx, fulfillment.MakerUpdate{OrderID: o.ID, MakerID: f.maker, Status: models.OrderCompleted})
	require.ErrorIs(t, err, fulfillment.ErrNotPermitted)

	other := f.advance(t, models.OrderAssigned)
	_, err = f.svc.MakerUpdateStatus(ctx, fulfillment.MakerUpdate{OrderID: other.ID, MakerID: uuid.New(), Status: models.OrderInProduction})
	require.ErrorIs(t, err, fulfillment.ErrNotPermitted)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.MakerUpdateStatus(ctx, fulfillment.MakerUpdate{OrderID: uuid.New(), MakerID: f.maker, Status: models.OrderInProduction})
	require.ErrorIs(t, err, fulfillment.ErrOrderNotFound)
}

func TestConfirmDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.advance(t, models.OrderShipped)

	o, err := f.svc.ConfirmDelivery(ctx, o.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, o.Status)
	assert.Equal(t, models.OrderCompleted, o.Maker.Status)

	var actions []models.AuditAction
	for _, e := range f.store.AuditEntries() {
		actions = append(actions, e.ActionType)
	}
	assert.Equal(t, []models.AuditAction{models.AuditOrderAssign, models.AuditOrderComplete}, actions)

	_, err = f.svc.ConfirmDelivery(ctx, o.ID, f.admin)
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)

	early := f.advance(t, models.OrderInProduction)
	_, err = f.svc.ConfirmDelivery(ctx, early.ID, f.admin)
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)
}

func TestCancel_EnqueuesScheduledRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.advance(t, models.OrderInProduction)

	res, err := f.svc.Cancel(ctx, o.ID, f.admin, "maker unavailable")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, res.Order.Status)
	assert.Equal(t, int64(500), res.RefundAmount)

	queued := f.store.Jobs()
	require.Len(t, queued, 1)
	args, ok := queued[0].(jobs.RefundOrderArgs)
	require.True(t, ok)
	assert.Equal(t, jobs.RefundOrderArgs{OrderID: o.ID, UserID: f.buyer, Amount: 500}, args)

	_, err = f.svc.MakerUpdateStatus(ctx, fulfillment.MakerUpdate{
		OrderID: o.ID, MakerID: f.maker, Status: models.OrderShipped, TrackingNumber: "1", Carrier: "c",
	})
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)

	_, err = f.svc.Cancel(ctx, o.ID, f.admin, "again")
	require.ErrorIs(t, err, fulfillment.ErrInvalidTransition)
}

func TestCancel_UnpaidOrderHasNoRefund(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, models.PaymentCredits, 100)

	_, err := f.svc.Cancel(context.Background(), o.ID, f.admin, "  ")
	require.ErrorIs(t, err, fulfillment.ErrReasonRequired)

	res, err := f.svc.Cancel(context.Background(), o.ID, f.admin, "duplicate order")
	require.NoError(t, err)
	assert.Zero(t, res.RefundAmount)
	assert.Empty(t, f.store.Jobs())
}

func TestCancel_EnqueueFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.advance(t, models.OrderAssigned)
	f.store.Fail("jobs.insert", errors.New("queue table missing"))

	_, err := f.svc.Cancel(ctx, o.ID, f.admin, "customer request")
	require.Error(t, err)

	o, err = f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAssigned, o.Status)
	for _, e := range f.store.AuditEntries() {
		assert.NotEqual(t, models.AuditOrderCancel, e.ActionType)
	}
}

func TestGetForViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.advance(t, models.OrderAssigned)

	for _, viewer := range []uuid.UUID{f.buyer, f.maker} {
		_, err := f.svc.GetForViewer(ctx, o.ID, viewer, false)
		require.NoError(t, err)
	}
	_, err := f.svc.GetForViewer(ctx, o.ID, uuid.New(), true)
	require.NoError(t, err)
	_, err = f.svc.GetForViewer(ctx, o.ID, uuid.New(), false)
	require.ErrorIs(t, err, fulfillment.ErrOrderNotFound)
}
