package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/vibast-solutions/ms-go-investment-payments/app/provider"
)

// FakeProvider issues sequential checkout ids and reports a fixed outcome.
type FakeProvider struct {
	CodeValue      string
	CheckoutErr    error
	Outcome        string
	OutcomeErr     error
	SignatureValid bool
	// OnStatus runs before every status lookup.
	OnStatus func(providerPaymentID string)

	mu        sync.Mutex
	checkouts []provider.CheckoutInput
}

func NewFakeProvider(code string) *FakeProvider {
	return &FakeProvider{CodeValue: code, Outcome: provider.OutcomePending, SignatureValid: true}
}

func (p *FakeProvider) Code() string {
	return p.CodeValue
}

func (p *FakeProvider) CreateCheckout(_ context.Context, input *provider.CheckoutInput) (*provider.CheckoutOutput, error) {
	if p.CheckoutErr != nil {
		return nil, p.CheckoutErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, *input)
	id := fmt.Sprintf("%s_%d", p.CodeValue, len(p.checkouts))

	return &provider.CheckoutOutput{
		ProviderPaymentID: id,
		CheckoutURL:       "https://checkout.example/" + id,
	}, nil
}

func (p *FakeProvider) VerifyWebhookSignature([]byte, http.Header) bool {
	return p.SignatureValid
}

func (p *FakeProvider) GetPaymentStatus(_ context.Context, providerPaymentID string) (string, error) {
	if p.OnStatus != nil {
		p.OnStatus(providerPaymentID)
	}
	if p.OutcomeErr != nil {
		return "", p.OutcomeErr
	}
	return p.Outcome, nil
}

// Checkouts returns the inputs of every checkout created so far.
func (p *FakeProvider) Checkouts() []provider.CheckoutInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.CheckoutInput(nil), p.checkouts...)
}
