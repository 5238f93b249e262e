package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/fulfillment"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/validate"
)

type Orders interface {
	CreateOrder(ctx context.Context, req fulfillment.CreateOrderRequest) (*models.Order, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	AssignMaker(ctx context.Context, orderID, makerID, adminID uuid.UUID) (*models.Order, error)
	MakerUpdateStatus(ctx context.Context, u fulfillment.MakerUpdate) (*models.Order, error)
	ConfirmDelivery(ctx context.Context, orderID, adminID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*fulfillment.CancelResult, error)
	GetForViewer(ctx context.Context, orderID, viewerID uuid.UUID, isAdmin bool) (*models.Order, error)
}

type OrderHandler struct {
	Orders    Orders
	Validator RequestValidator
	Logger    *slog.Logger
}

type createOrderRequest struct {
	UserID          uuid.UUID `json:"user_id"`
	Total           int64     `json:"total"`
	PaymentMethod   string    `json:"payment_method"`
	ShippingAddress string    `json:"shipping_address"`
}

// Create handles POST /orders from the checkout service.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, h.Validator, validate.CreateOrder, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	order, err := h.Orders.CreateOrder(r.Context(), fulfillment.CreateOrderRequest{
		UserID:          req.UserID,
		Total:           req.Total,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"order": order})
}

// ConfirmPayment handles POST /orders/{id}/confirm-payment.
func (h *OrderHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	order, err := h.Orders.ConfirmPayment(r.Context(), orderID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"order": order})
}

// Get handles GET /orders/{id} for the buyer, the assigned maker or an admin.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	order, err := h.Orders.GetForViewer(r.Context(), orderID, id.UserID, id.IsAdmin())
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"order": order})
}

type makerStatusRequest struct {
	Status         models.OrderStatus `json:"status"`
	Notes          string             `json:"notes"`
	TrackingNumber string             `json:"tracking_number"`
	Carrier        string             `json:"carrier"`
}

// MakerUpdateStatus handles POST /maker/orders/{id}/status. The caller must be
// the maker the order is assigned to.
func (h *OrderHandler) MakerUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req makerStatusRequest
	if err := decode(r, h.Validator, validate.MakerUpdateOrderStatus, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	order, err := h.Orders.MakerUpdateStatus(r.Context(), fulfillment.MakerUpdate{
		OrderID:        orderID,
		MakerID:        id.UserID,
		Status:         req.Status,
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"order": order})
}

// Assign handles POST /admin/orders/{id}/assign.
func (h *OrderHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req struct {
		MakerID uuid.UUID `json:"maker_id"`
	}
	if err := decode(r, h.Validator, validate.AssignMaker, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	order, err := h.Orders.AssignMaker(r.Context(), orderID, req.MakerID, id.UserID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"order": order})
}

// ConfirmDelivery handles POST /admin/orders/{id}/confirm-delivery.
func (h *OrderHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	order, err := h.Orders.ConfirmDelivery(r.Context(), orderID, id.UserID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"order": order})
}

// Cancel handles POST /admin/orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	orderID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, h.Validator, validate.Reason, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	res, err := h.Orders.Cancel(r.Context(), orderID, id.UserID, req.Reason)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"order":         res.Order,
		"refund_amount": res.RefundAmount,
	})
}
