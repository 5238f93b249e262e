package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is the per-user stored-value balance. Balance always equals
// LifetimeEarned - LifetimeSpent and never goes below zero.
type Wallet struct {
	UserID         uuid.UUID `json:"user_id"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Consistent reports whether the running totals agree with the balance.
func (w *Wallet) Consistent() bool {
	return w.Balance >= 0 && w.Balance == w.LifetimeEarned-w.LifetimeSpent
}

// Snapshot returns the audited view of the wallet.
func (w *Wallet) Snapshot() WalletSnapshot {
	return WalletSnapshot{
		UserID:         w.UserID,
		Balance:        w.Balance,
		LifetimeEarned: w.LifetimeEarned,
		LifetimeSpent:  w.LifetimeSpent,
	}
}
