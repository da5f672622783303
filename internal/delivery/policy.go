// Package delivery supplies the delivery fee for an order. The fee policy
// is an external collaborator from the order core's point of view: whatever
// it returns is added to the subtotal unmodified.
package delivery

import (
	"fmt"

	"github.com/rahil/meatmart/internal/models"
	"github.com/shopspring/decimal"
)

type Policy interface {
	Fee(option models.DeliveryOption) (decimal.Decimal, error)
}

type flatPolicy struct {
	deliveryFee decimal.Decimal
	expressFee  decimal.Decimal
}

// NewFlatPolicy charges a flat configured fee per delivery option and
// nothing for pickup.
func NewFlatPolicy(deliveryFee, expressFee decimal.Decimal) Policy {
	return flatPolicy{deliveryFee: deliveryFee, expressFee: expressFee}
}

func (p flatPolicy) Fee(option models.DeliveryOption) (decimal.Decimal, error) {
	switch option {
	case models.DeliveryOptionDelivery:
		return p.deliveryFee, nil
	case models.DeliveryOptionExpress:
		return p.expressFee, nil
	case models.DeliveryOptionPickup:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown delivery option %q", option)
	}
}
