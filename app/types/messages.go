package types

import "time"

// Request and response messages shared by the HTTP and gRPC transports.
// Getters are nil-safe so handlers can pass messages straight to the service.

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
}

type InitiatePaymentRequest struct {
	UserId         uint64 `json:"user_id" validate:"required"`
	InvestmentId   uint64 `json:"investment_id" validate:"required"`
	Provider       string `json:"provider,omitempty" validate:"omitempty,max=32"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

func (r *InitiatePaymentRequest) GetUserId() uint64 {
	if r == nil {
		return 0
	}
	return r.UserId
}

func (r *InitiatePaymentRequest) GetInvestmentId() uint64 {
	if r == nil {
		return 0
	}
	return r.InvestmentId
}

func (r *InitiatePaymentRequest) GetProvider() string {
	if r == nil {
		return ""
	}
	return r.Provider
}

func (r *InitiatePaymentRequest) GetIdempotencyKey() string {
	if r == nil {
		return ""
	}
	return r.IdempotencyKey
}

type GetPaymentRequest struct {
	Id uint64 `json:"id" validate:"required"`
}

func (r *GetPaymentRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type ListPaymentTransitionsRequest struct {
	Id uint64 `json:"id" validate:"required"`
}

func (r *ListPaymentTransitionsRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type CancelPaymentRequest struct {
	Id     uint64 `json:"id" validate:"required"`
	UserId uint64 `json:"user_id" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

func (r *CancelPaymentRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func (r *CancelPaymentRequest) GetUserId() uint64 {
	if r == nil {
		return 0
	}
	return r.UserId
}

func (r *CancelPaymentRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

type RefundPaymentRequest struct {
	Id     uint64 `json:"id" validate:"required"`
	UserId uint64 `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

func (r *RefundPaymentRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func (r *RefundPaymentRequest) GetUserId() uint64 {
	if r == nil {
		return 0
	}
	return r.UserId
}

func (r *RefundPaymentRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

type HandleWebhookRequest struct {
	Provider          string         `json:"provider" validate:"required,max=32"`
	ProviderPaymentId string         `json:"provider_payment_id" validate:"required,max=128"`
	ProviderEventId   string         `json:"provider_event_id,omitempty" validate:"omitempty,max=128"`
	EventType         string         `json:"event_type,omitempty" validate:"omitempty,max=64"`
	Status            string         `json:"status" validate:"required,max=32"`
	Payload           map[string]any `json:"payload,omitempty"`

	// Headers and RemoteAddr describe the original delivery when it reaches
	// the service over gRPC from an edge that terminated the provider call.
	Headers    map[string]string `json:"headers,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	RawBody    string            `json:"raw_body,omitempty"`
}

func (r *HandleWebhookRequest) GetProvider() string {
	if r == nil {
		return ""
	}
	return r.Provider
}

func (r *HandleWebhookRequest) GetProviderPaymentId() string {
	if r == nil {
		return ""
	}
	return r.ProviderPaymentId
}

func (r *HandleWebhookRequest) GetProviderEventId() string {
	if r == nil {
		return ""
	}
	return r.ProviderEventId
}

func (r *HandleWebhookRequest) GetEventType() string {
	if r == nil {
		return ""
	}
	return r.EventType
}

func (r *HandleWebhookRequest) GetStatus() string {
	if r == nil {
		return ""
	}
	return r.Status
}

func (r *HandleWebhookRequest) GetPayload() map[string]any {
	if r == nil {
		return nil
	}
	return r.Payload
}

type Payment struct {
	Id                uint64     `json:"id"`
	InvestmentId      uint64     `json:"investment_id"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	Provider          string     `json:"provider"`
	ProviderPaymentId string     `json:"provider_payment_id,omitempty"`
	CheckoutUrl       string     `json:"checkout_url,omitempty"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastEventAt       *time.Time `json:"last_event_at,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
}

type PaymentResponse struct {
	Payment *Payment `json:"payment"`
}

type Transition struct {
	Id         uint64    `json:"id"`
	PaymentId  uint64    `json:"payment_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	ActorType  string    `json:"actor_type"`
	ActorId    *uint64   `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ListPaymentTransitionsResponse struct {
	Transitions []*Transition `json:"transitions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
