package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/apperr"
)

var (
	ErrInvalidAmount       = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be a non-zero integer")
	ErrInvalidType         = apperr.New(apperr.KindValidation, "invalid_transaction_type", "unknown transaction type")
	ErrInsufficientBalance = apperr.New(apperr.KindConflict, "insufficient_balance", "insufficient balance")
	ErrDuplicateReference  = apperr.New(apperr.KindConflict, "duplicate_reference", "a transaction with this reference is already being applied")
	ErrReferenceConflict   = apperr.New(apperr.KindConflict, "reference_conflict", "reference already used by a transaction for another user or amount")
	ErrInvariantViolation  = apperr.New(apperr.KindUnavailable, "invariant_violation", "ledger invariant violated")
)

// InsufficientBalanceError carries the numbers behind a rejected spend.
type InsufficientBalanceError struct {
	UserID    uuid.UUID
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user %s has %d, requested %d", e.UserID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
