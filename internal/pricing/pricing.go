// Package pricing computes customer-facing prices from vendor prices and
// admin-controlled category margins.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rahil/meatmart/internal/cache"
	"github.com/rahil/meatmart/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrMarginNotFound    = errors.New("category margin not found")
	ErrMarginInactive    = errors.New("category margin inactive")
	ErrInvalidPrice      = errors.New("vendor price must be positive")
	ErrInvalidPercentage = errors.New("margin percentage must not be negative")
)

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// MarginSource resolves the current margin record for a category. It must
// return ErrMarginNotFound when the category is unknown.
type MarginSource interface {
	CategoryMargin(ctx context.Context, category string) (*models.CategoryMargin, error)
}

// FinalPrice applies a margin percentage to a vendor price and rounds to 2
// decimal places, half away from zero. Deterministic: identical inputs
// always yield identical output. Postgres ROUND(numeric, 2) agrees, so
// prices recomputed in SQL match this function.
func FinalPrice(vendorPrice, marginPercentage decimal.Decimal) decimal.Decimal {
	return vendorPrice.Mul(one.Add(marginPercentage.Div(hundred))).Round(2)
}

// Engine resolves margins (optionally through a cache) and prices vendor
// products. It holds no mutable state of its own; margin writes go through
// the store and call Invalidate.
type Engine struct {
	margins MarginSource
	cache   cache.Cache
	ttl     time.Duration
}

func NewEngine(margins MarginSource, c cache.Cache, ttl time.Duration) *Engine {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Engine{margins: margins, cache: c, ttl: ttl}
}

// ComputeFinalPrice returns the customer-facing price for a vendor price in
// the given category. Fails with ErrInvalidPrice on a non-positive price,
// ErrMarginNotFound when the category has no margin record, and
// ErrMarginInactive when the record exists but is switched off. There is no
// fallback default margin.
func (e *Engine) ComputeFinalPrice(ctx context.Context, vendorPrice decimal.Decimal, category string) (decimal.Decimal, error) {
	if !vendorPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrInvalidPrice, vendorPrice)
	}

	margin, err := e.lookupMargin(ctx, category)
	if err != nil {
		return decimal.Zero, err
	}
	if !margin.Active {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMarginInactive, category)
	}

	return FinalPrice(vendorPrice, margin.MarginPercentage), nil
}

// Invalidate drops the cached margin for a category. Called after every
// margin write so the next lookup sees the new record.
func (e *Engine) Invalidate(ctx context.Context, category string) error {
	return e.cache.Del(ctx, marginKey(category))
}

func (e *Engine) lookupMargin(ctx context.Context, category string) (*models.CategoryMargin, error) {
	key := marginKey(category)

	if cached, err := e.cache.Get(ctx, key); err == nil && cached != "" {
		var margin models.CategoryMargin
		if err := json.Unmarshal([]byte(cached), &margin); err == nil {
			return &margin, nil
		}
	}

	margin, err := e.margins.CategoryMargin(ctx, category)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(margin); err == nil {
		// cache failures only cost the memoization, never the lookup
		_ = e.cache.Set(ctx, key, string(data), e.ttl)
	}

	return margin, nil
}

func marginKey(category string) string {
	return "pricing:margin:" + category
}
