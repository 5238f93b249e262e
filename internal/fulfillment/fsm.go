package fulfillment

import (
	"fmt"

	"github.com/makerhub/backend/internal/models"
)

// Machine is a transition table. A status with no entry is terminal.
type Machine struct {
	name  string
	edges map[models.OrderStatus][]models.OrderStatus
}

// OrderMachine is the order-level lifecycle, including cancellation.
var OrderMachine = Machine{
	name: "order",
	edges: map[models.OrderStatus][]models.OrderStatus{
		models.OrderPendingPayment: {models.OrderPaid, models.OrderCancelled},
		models.OrderPaid:           {models.OrderAssigned, models.OrderCancelled},
		models.OrderAssigned:       {models.OrderInProduction, models.OrderCancelled},
		models.OrderInProduction:   {models.OrderShipped, models.OrderCancelled},
		models.OrderShipped:        {models.OrderCompleted},
	},
}

// MakerMachine is the fulfiller's lifecycle. It only moves forward one step.
var MakerMachine = Machine{
	name: "maker order",
	edges: map[models.OrderStatus][]models.OrderStatus{
		models.OrderAssigned:     {models.OrderInProduction},
		models.OrderInProduction: {models.OrderShipped},
		models.OrderShipped:      {models.OrderCompleted},
	},
}

func (m Machine) Can(from, to models.OrderStatus) bool {
	for _, s := range m.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns an *InvalidTransitionError unless from -> to is an edge.
func (m Machine) Check(from, to models.OrderStatus) error {
	if m.Can(from, to) {
		return nil
	}
	return &InvalidTransitionError{Machine: m.name, From: from, To: to}
}

type InvalidTransitionError struct {
	Machine string
	From    models.OrderStatus
	To      models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Machine, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
