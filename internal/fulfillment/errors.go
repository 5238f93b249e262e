package fulfillment

import "github.com/makerhub/backend/internal/apperr"

var (
	ErrOrderNotFound       = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	ErrInvalidOrder        = apperr.New(apperr.KindValidation, "invalid_order", "order needs a positive total, a payment method of credits or card, and a shipping address")
	ErrInvalidTransition   = apperr.New(apperr.KindConflict, "invalid_transition", "transition not allowed from the current status")
	ErrMissingTrackingInfo = apperr.New(apperr.KindValidation, "missing_tracking_info", "shipping requires a tracking number and carrier")
	ErrNotPermitted        = apperr.New(apperr.KindForbidden, "not_permitted", "caller may not perform this transition")
	ErrReasonRequired      = apperr.New(apperr.KindValidation, "reason_required", "a reason is required")
)
