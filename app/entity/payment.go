package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusCreated  PaymentStatus = "CREATED"
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusSuccess  PaymentStatus = "SUCCESS"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusCanceled PaymentStatus = "CANCELED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// allowedTransitions is the only place legal status changes are declared.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:  {PaymentStatusPending, PaymentStatusCanceled},
	PaymentStatusPending:  {PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCanceled},
	PaymentStatusSuccess:  {PaymentStatusRefunded},
	PaymentStatusFailed:   {PaymentStatusPending},
	PaymentStatusCanceled: {},
	PaymentStatusRefunded: {},
}

func PaymentStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusCreated,
		PaymentStatusPending,
		PaymentStatusSuccess,
		PaymentStatusFailed,
		PaymentStatusCanceled,
		PaymentStatusRefunded,
	}
}

func (s PaymentStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

type Payment struct {
	ID           uint64
	InvestmentID uint64

	Provider          string
	ProviderPaymentID *string
	CheckoutURL       *string

	Amount   decimal.Decimal
	Currency string

	Status         PaymentStatus
	IdempotencyKey *string
	Version        int64

	LastEventAt *time.Time
	ConfirmedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasCheckout reports whether the payment is still bound to the given
// provider checkout. A retry replaces the checkout, so outcomes for the old
// one no longer apply.
func (p *Payment) HasCheckout(provider, providerPaymentID string) bool {
	return p.Provider == provider && p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID
}

// PaymentPatch carries the provider-facing fields an initiation may rewrite.
// Status is deliberately absent: it only changes through the state machine.
type PaymentPatch struct {
	provider          *string
	providerPaymentID *string
	checkoutURL       *string
	idempotencyKey    *string
}

func (p *PaymentPatch) SetProvider(provider string) *PaymentPatch {
	p.provider = &provider
	return p
}

func (p *PaymentPatch) SetCheckout(providerPaymentID, checkoutURL string) *PaymentPatch {
	p.providerPaymentID = &providerPaymentID
	p.checkoutURL = &checkoutURL
	return p
}

func (p *PaymentPatch) SetIdempotencyKey(key string) *PaymentPatch {
	p.idempotencyKey = &key
	return p
}

func (p *PaymentPatch) Empty() bool {
	return p.provider == nil && p.providerPaymentID == nil && p.checkoutURL == nil && p.idempotencyKey == nil
}

func (p *PaymentPatch) Apply(payment *Payment) {
	if p.provider != nil {
		payment.Provider = *p.provider
	}
	if p.providerPaymentID != nil {
		id := *p.providerPaymentID
		payment.ProviderPaymentID = &id
	}
	if p.checkoutURL != nil {
		url := *p.checkoutURL
		payment.CheckoutURL = &url
	}
	if p.idempotencyKey != nil {
		key := *p.idempotencyKey
		payment.IdempotencyKey = &key
	}
}
