package models

import (
	"time"

	"github.com/google/uuid"
)

// GiftCardStatus is issued until it moves, once, to one of the terminal states.
type GiftCardStatus string

const (
	GiftCardIssued   GiftCardStatus = "issued"
	GiftCardRedeemed GiftCardStatus = "redeemed"
	GiftCardExpired  GiftCardStatus = "expired"
	GiftCardVoid     GiftCardStatus = "void"
)

type GiftCard struct {
	Code         string         `json:"code"`
	CreditsValue int64          `json:"credits_value"`
	Status       GiftCardStatus `json:"status"`
	IssuedBy     *uuid.UUID     `json:"issued_by,omitempty"`
	RedeemedBy   *uuid.UUID     `json:"redeemed_by,omitempty"`
	RedeemedAt   *time.Time     `json:"redeemed_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PastExpiry reports whether the card's expiry has passed at now, regardless
// of whether the sweep has flipped its status yet.
func (g *GiftCard) PastExpiry(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

func (g *GiftCard) Snapshot() GiftCardSnapshot {
	return GiftCardSnapshot{
		Code:         g.Code,
		CreditsValue: g.CreditsValue,
		Status:       g.Status,
		RedeemedBy:   g.RedeemedBy,
	}
}
