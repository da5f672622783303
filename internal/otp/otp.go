// Package otp issues and verifies one-time login codes. Implementations
// are selected via configuration; the static provider exists for tests and
// local development only.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rahil/meatmart/internal/cache"
	log "github.com/sirupsen/logrus"
)

type Provider interface {
	Issue(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) bool
}

type smsProvider struct {
	client *resty.Client
	url    string
	codes  cache.Cache
	ttl    time.Duration
}

// NewSMS generates a random 6-digit code per phone, stores it with a TTL
// and sends it through the SMS webhook.
func NewSMS(webhookURL string, codes cache.Cache, ttl time.Duration) Provider {
	return &smsProvider{
		client: resty.New().SetRetryCount(0),
		url:    webhookURL,
		codes:  codes,
		ttl:    ttl,
	}
}

func (p *smsProvider) Issue(ctx context.Context, phone string) error {
	code, err := randomCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	if err := p.codes.Set(ctx, codeKey(phone), code, p.ttl); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"phone": phone, "message": "Your login code is " + code}).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms webhook returned %s", resp.Status())
	}
	return nil
}

func (p *smsProvider) Verify(ctx context.Context, phone, code string) bool {
	stored, err := p.codes.Get(ctx, codeKey(phone))
	if err != nil || stored == "" || stored != code {
		return false
	}
	// single use
	_ = p.codes.Del(ctx, codeKey(phone))
	return true
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func codeKey(phone string) string {
	return "otp:" + phone
}

type staticProvider struct {
	code string
}

// NewStatic accepts a single fixed code for every phone. Test-only.
func NewStatic(code string) Provider {
	return staticProvider{code: code}
}

func (p staticProvider) Issue(ctx context.Context, phone string) error {
	log.WithField("phone", phone).Info("static otp issued")
	return nil
}

func (p staticProvider) Verify(ctx context.Context, phone, code string) bool {
	return code == p.code
}
