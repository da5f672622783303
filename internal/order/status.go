package order

import (
	"fmt"
	"strings"

	"github.com/rahil/meatmart/internal/models"
)

// Terminal reports whether no further status transition is possible.
func Terminal(s models.OrderStatus) bool {
	return s == models.OrderStatusDelivered || s == models.OrderStatusCancelled
}

// vendorSide reports whether the actor may drive fulfilment transitions on
// the order: the order's own vendor, or an admin acting as override.
func vendorSide(o *models.Order, actor models.Actor) bool {
	if actor.Admin() {
		return true
	}
	return actor.Role == models.RoleVendor && actor.ID == o.VendorID
}

// ValidateTransition checks a requested status transition against the
// order's current state and the acting party. It mutates nothing; on nil
// return the caller may apply the transition.
//
//	pending -> confirmed -> preparing -> out_for_delivery -> delivered
//
// cancelled is reachable from any non-terminal state. Pickup orders skip
// out_for_delivery and complete with preparing -> delivered.
func ValidateTransition(o *models.Order, to models.OrderStatus, actor models.Actor, reason string) error {
	if Terminal(o.Status) {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}

	switch to {
	case models.OrderStatusConfirmed:
		if o.Status != models.OrderStatusPending {
			return transitionErr(o, to)
		}
		if !vendorSide(o, actor) {
			return actorErr(actor, to)
		}
		if len(o.Items) == 0 || !o.Total.IsPositive() {
			return fmt.Errorf("%w: order %s cannot be confirmed without items and a positive total", ErrInvalidTransition, o.ID)
		}

	case models.OrderStatusPreparing:
		if o.Status != models.OrderStatusConfirmed {
			return transitionErr(o, to)
		}
		if !vendorSide(o, actor) {
			return actorErr(actor, to)
		}

	case models.OrderStatusOutForDelivery:
		if o.Status != models.OrderStatusPreparing {
			return transitionErr(o, to)
		}
		if o.DeliveryOption == models.DeliveryOptionPickup {
			return fmt.Errorf("%w: order %s is a pickup order", ErrInvalidTransition, o.ID)
		}
		if !vendorSide(o, actor) {
			return actorErr(actor, to)
		}

	case models.OrderStatusDelivered:
		switch {
		case o.Status == models.OrderStatusOutForDelivery:
		case o.Status == models.OrderStatusPreparing && o.DeliveryOption == models.DeliveryOptionPickup:
		default:
			return transitionErr(o, to)
		}
		if !vendorSide(o, actor) {
			return actorErr(actor, to)
		}

	case models.OrderStatusCancelled:
		if strings.TrimSpace(reason) == "" {
			return fmt.Errorf("%w: cancellation requires a reason", ErrValidation)
		}
		switch {
		case actor.Role == models.RoleCustomer:
			if actor.ID != o.CustomerID {
				return actorErr(actor, to)
			}
			if o.Status != models.OrderStatusPending {
				return fmt.Errorf("%w: customers may cancel only before confirmation", ErrInvalidTransition)
			}
		case vendorSide(o, actor):
			// any non-terminal state, already checked above
		default:
			return actorErr(actor, to)
		}

	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	return nil
}

// ValidatePaymentTransition checks a payment-status change. Payment status
// is orthogonal to order status except that refunds require a cancelled
// order.
func ValidatePaymentTransition(o *models.Order, to models.PaymentStatus) error {
	from := o.PaymentStatus
	switch {
	case from == models.PaymentStatusPending && to == models.PaymentStatusPaid:
	case from == models.PaymentStatusPending && to == models.PaymentStatusFailed:
	case from == models.PaymentStatusPaid && to == models.PaymentStatusRefunded:
		if o.Status != models.OrderStatusCancelled {
			return fmt.Errorf("%w: refund requires a cancelled order, order %s is %s", ErrInvalidPaymentTransition, o.ID, o.Status)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentTransition, from, to)
	}
	return nil
}

func transitionErr(o *models.Order, to models.OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
}

func actorErr(actor models.Actor, to models.OrderStatus) error {
	return fmt.Errorf("%w: %s %d may not set status %s", ErrActorNotAllowed, actor.Role, actor.ID, to)
}
