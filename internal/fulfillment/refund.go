package fulfillment

import (
	"github.com/shopspring/decimal"

	"github.com/makerhub/backend/internal/models"
)

// DefaultRefundSchedule is the percentage of the total credited back when an
// order is cancelled from each status.
var DefaultRefundSchedule = map[models.OrderStatus]int64{
	models.OrderPendingPayment: 0,
	models.OrderPaid:           100,
	models.OrderAssigned:       100,
	models.OrderInProduction:   50,
}

type RefundPolicy struct {
	Schedule map[models.OrderStatus]int64
}

// Amount returns floor(total * percent / 100) for the status. Statuses
// missing from the schedule refund nothing.
func (p RefundPolicy) Amount(status models.OrderStatus, total int64) int64 {
	pct := p.Schedule[status]
	if pct <= 0 || total <= 0 {
		return 0
	}
	if pct > 100 {
		pct = 100
	}
	return decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(pct)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}
