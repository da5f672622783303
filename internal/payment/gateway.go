// Package payment defines the payment gateway capability. The gateway
// receives a charge request and later reports the resulting payment status
// through the order payment callback; nothing here mutates orders.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rahil/meatmart/internal/metrics"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

type Charge struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type Gateway interface {
	Charge(ctx context.Context, charge Charge) error
}

type httpGateway struct {
	client  *resty.Client
	url     string
	breaker *gobreaker.CircuitBreaker
}

// NewHTTP returns a gateway that posts charges to a provider over HTTP,
// behind a circuit breaker so a failing provider does not pile up
// in-flight checkouts.
func NewHTTP(gatewayURL string, timeout time.Duration) Gateway {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.PaymentBreakerState.Set(breakerStateValue(to))
			log.WithFields(log.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("payment circuit breaker state changed")
		},
	})

	return &httpGateway{
		client:  resty.New().SetTimeout(timeout).SetRetryCount(0),
		url:     gatewayURL,
		breaker: breaker,
	}
}

func (g *httpGateway) Charge(ctx context.Context, charge Charge) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(charge).
			Post(g.url)
		if err != nil {
			return nil, fmt.Errorf("post charge: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("gateway returned %s", resp.Status())
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("payment gateway unavailable: %w", err)
	}
	return err
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

type mockGateway struct{}

// NewMock returns a gateway that accepts every charge without calling
// anything. Selected via configuration for development and tests.
func NewMock() Gateway {
	return mockGateway{}
}

func (mockGateway) Charge(ctx context.Context, charge Charge) error {
	log.WithFields(log.Fields{
		"order_id": charge.OrderID,
		"amount":   charge.Amount.String(),
	}).Info("mock payment charge accepted")
	return nil
}
