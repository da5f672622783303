// Package order holds the pure rules of the order lifecycle: item and
// totals validation at creation, the status state machine, and the
// orthogonal payment-status transitions. Nothing here touches storage.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/rahil/meatmart/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrTotalsMismatch           = errors.New("totals mismatch")
	ErrInvalidTransition        = errors.New("invalid order transition")
	ErrInvalidPaymentTransition = errors.New("invalid payment transition")
	ErrActorNotAllowed          = errors.New("actor not allowed")
)

// subtotalEpsilon is one currency minor unit. Recomputed and submitted
// subtotals must differ by strictly less than this.
var subtotalEpsilon = decimal.NewFromFloat(0.01)

// Event describes an accepted status transition. Delivery to downstream
// actors is the notification collaborator's responsibility.
type Event struct {
	OrderID    string             `json:"order_id"`
	FromStatus models.OrderStatus `json:"from_status"`
	ToStatus   models.OrderStatus `json:"to_status"`
	Timestamp  time.Time          `json:"timestamp"`
}

// ValidateItems checks that an order has at least one item and that every
// snapshotted unit price and quantity is positive.
func ValidateItems(items []models.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity %d", ErrValidation, i, item.Quantity)
		}
		if !item.UnitPrice.IsPositive() {
			return fmt.Errorf("%w: item %d has non-positive unit price %s", ErrValidation, i, item.UnitPrice)
		}
	}
	return nil
}

// Subtotal recomputes the order subtotal from its items.
func Subtotal(items []models.OrderItem) decimal.Decimal {
	var sum decimal.Decimal
	for _, item := range items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

// CheckSubtotal compares the server-side subtotal against the
// client-submitted one. The client value is never trusted as truth; it is
// only accepted when it agrees within one minor unit.
func CheckSubtotal(computed, submitted decimal.Decimal) error {
	if computed.Sub(submitted).Abs().GreaterThanOrEqual(subtotalEpsilon) {
		return fmt.Errorf("%w: computed %s, submitted %s", ErrTotalsMismatch, computed, submitted)
	}
	return nil
}

// Total derives the order total. Any code path that mutates items must
// recompute both subtotal and total through here.
func Total(subtotal, deliveryFee decimal.Decimal) decimal.Decimal {
	return subtotal.Add(deliveryFee)
}
