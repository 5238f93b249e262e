package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the ledger entry kinds.
type TransactionType string

const (
	TransactionPurchase           TransactionType = "purchase"
	TransactionGiftCard           TransactionType = "gift_card"
	TransactionSpend              TransactionType = "spend"
	TransactionRefund             TransactionType = "refund"
	TransactionBonus              TransactionType = "bonus"
	TransactionReferral           TransactionType = "referral"
	TransactionSubscriptionCredit TransactionType = "subscription_credit"
	TransactionCorrection         TransactionType = "correction"
	TransactionAdjustment         TransactionType = "adjustment"
)

var transactionTypes = map[TransactionType]bool{
	TransactionPurchase:           true,
	TransactionGiftCard:           true,
	TransactionSpend:              true,
	TransactionRefund:             true,
	TransactionBonus:              true,
	TransactionReferral:           true,
	TransactionSubscriptionCredit: true,
	TransactionCorrection:         true,
	TransactionAdjustment:         true,
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return transactionTypes[t]
}

// Transaction is an immutable ledger entry. Amount is signed; BalanceAfter
// is the wallet balance right after this entry was applied.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description"`
	ReferenceID  *string         `json:"reference_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Page is a limit/offset window over a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
