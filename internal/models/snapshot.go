package models

import "github.com/google/uuid"

// Snapshots are the typed before/after payloads stored in the audit log.

type WalletSnapshot struct {
	UserID         uuid.UUID `json:"user_id"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent"`
}

type OrderSnapshot struct {
	OrderID     uuid.UUID     `json:"order_id"`
	Status      OrderStatus   `json:"status"`
	Total       int64         `json:"total"`
	MakerID     *uuid.UUID    `json:"maker_id,omitempty"`
	MakerStatus OrderStatus   `json:"maker_status,omitempty"`
	Tracking    *TrackingInfo `json:"tracking_info,omitempty"`
}

type GiftCardSnapshot struct {
	Code         string         `json:"code"`
	CreditsValue int64          `json:"credits_value"`
	Status       GiftCardStatus `json:"status"`
	RedeemedBy   *uuid.UUID     `json:"redeemed_by,omitempty"`
}
