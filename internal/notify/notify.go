// Package notify delivers order transition events to customers and
// vendors. Retry and at-least-once semantics belong to the provider behind
// the webhook, not to callers.
package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rahil/meatmart/internal/order"
	log "github.com/sirupsen/logrus"
)

type Notifier interface {
	OrderTransition(ctx context.Context, event order.Event) error
}

type smsNotifier struct {
	client   *resty.Client
	url      string
	senderID string
}

// NewSMS posts transition events to an SMS provider webhook.
func NewSMS(webhookURL, senderID string) Notifier {
	return &smsNotifier{
		client:   resty.New().SetRetryCount(0),
		url:      webhookURL,
		senderID: senderID,
	}
}

func (n *smsNotifier) OrderTransition(ctx context.Context, event order.Event) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"sender": n.senderID,
			"event":  event,
		}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post transition event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms webhook returned %s", resp.Status())
	}
	return nil
}

type logNotifier struct{}

// NewLog returns a notifier that only logs events. Used when no SMS
// provider is configured.
func NewLog() Notifier {
	return logNotifier{}
}

func (logNotifier) OrderTransition(ctx context.Context, event order.Event) error {
	log.WithFields(log.Fields{
		"order_id": event.OrderID,
		"from":     event.FromStatus,
		"to":       event.ToStatus,
	}).Info("order transition")
	return nil
}
