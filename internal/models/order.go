package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus covers both the order-level lifecycle and the maker sub-states
// (assigned through completed), which the order mirrors once assigned.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderAssigned       OrderStatus = "assigned"
	OrderInProduction   OrderStatus = "in_production"
	OrderShipped        OrderStatus = "shipped"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
)

// Payment methods accepted at checkout.
const (
	PaymentCredits = "credits"
	PaymentCard    = "card"
)

type Order struct {
	ID                 uuid.UUID      `json:"id"`
	UserID             uuid.UUID      `json:"user_id"`
	Status             OrderStatus    `json:"status"`
	Total              int64          `json:"total"`
	PaymentMethod      string         `json:"payment_method"`
	ShippingAddress    string         `json:"shipping_address"`
	PaymentConfirmedAt *time.Time     `json:"payment_confirmed_at,omitempty"`
	StatusHistory      []StatusChange `json:"status_history"`
	Maker              *MakerOrder    `json:"maker_order,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// StatusChange is one append-only row of an order's status history.
type StatusChange struct {
	ID         uuid.UUID   `json:"id"`
	OrderID    uuid.UUID   `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorID    uuid.UUID   `json:"actor_id"`
	Notes      string      `json:"notes,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TrackingInfo is required before a maker order can be shipped.
type TrackingInfo struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

// MakerOrder assigns an order to a fulfiller.
type MakerOrder struct {
	ID         uuid.UUID     `json:"id"`
	OrderID    uuid.UUID     `json:"order_id"`
	MakerID    uuid.UUID     `json:"maker_id"`
	Status     OrderStatus   `json:"status"`
	Tracking   *TrackingInfo `json:"tracking_info,omitempty"`
	AssignedAt time.Time     `json:"assigned_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (o *Order) Snapshot() OrderSnapshot {
	s := OrderSnapshot{
		OrderID: o.ID,
		Status:  o.Status,
		Total:   o.Total,
	}
	if o.Maker != nil {
		s.MakerID = &o.Maker.MakerID
		s.MakerStatus = o.Maker.Status
		s.Tracking = o.Maker.Tracking
	}
	return s
}
