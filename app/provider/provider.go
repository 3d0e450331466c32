package provider

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

const (
	CodePaybox = "paybox"
	CodeStripe = "stripe"
)

// Outcomes reported by a provider status lookup.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomePending  = "pending"
)

type CheckoutInput struct {
	InvestmentID uint64
	Amount       decimal.Decimal
	Currency     string
	Description  string

	// IdempotencyKey is forwarded to providers that deduplicate checkout
	// creation on their side.
	IdempotencyKey string
}

type CheckoutOutput struct {
	ProviderPaymentID string
	CheckoutURL       string
}

type Provider interface {
	Code() string
	CreateCheckout(ctx context.Context, input *CheckoutInput) (*CheckoutOutput, error)
	VerifyWebhookSignature(payload []byte, headers http.Header) bool
	GetPaymentStatus(ctx context.Context, providerPaymentID string) (string, error)
}
