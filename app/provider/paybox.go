package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const payboxSignatureHeader = "X-Paybox-Signature"

type PayboxConfig struct {
	CheckoutBaseURL string
	WebhookSecret   string
}

// PayboxProvider issues hosted checkout links. Payment outcomes arrive only
// through webhooks.
type PayboxProvider struct {
	cfg   PayboxConfig
	newID func() string
}

func NewPayboxProvider(cfg PayboxConfig) *PayboxProvider {
	cfg.CheckoutBaseURL = strings.TrimRight(strings.TrimSpace(cfg.CheckoutBaseURL), "/")
	return &PayboxProvider{
		cfg:   cfg,
		newID: uuid.NewString,
	}
}

func (p *PayboxProvider) Code() string {
	return CodePaybox
}

func (p *PayboxProvider) CreateCheckout(_ context.Context, input *CheckoutInput) (*CheckoutOutput, error) {
	if p.cfg.CheckoutBaseURL == "" {
		return nil, errors.New("paybox checkout base url is not configured")
	}
	if !input.Amount.IsPositive() {
		return nil, errors.New("paybox checkout amount must be positive")
	}

	id := p.newID()
	return &CheckoutOutput{
		ProviderPaymentID: id,
		CheckoutURL:       p.cfg.CheckoutBaseURL + "/pay/" + id,
	}, nil
}

func (p *PayboxProvider) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	secret := strings.TrimSpace(p.cfg.WebhookSecret)
	signature := strings.TrimSpace(headers.Get(payboxSignatureHeader))
	if secret == "" || signature == "" {
		return false
	}

	candidate, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(candidate, mac.Sum(nil))
}

func (p *PayboxProvider) GetPaymentStatus(_ context.Context, _ string) (string, error) {
	return OutcomePending, nil
}
