package entity

import "time"

type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "RECEIVED"
	WebhookEventProcessed WebhookEventStatus = "PROCESSED"
	WebhookEventIgnored   WebhookEventStatus = "IGNORED"
	WebhookEventFailed    WebhookEventStatus = "FAILED"
)

type WebhookEvent struct {
	ID uint64

	Provider        string
	ProviderEventID *string
	EventType       string

	Payload        map[string]any
	PayloadHash    string
	SignatureValid bool

	Status       WebhookEventStatus
	ErrorMessage *string

	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

type WebhookDeliveryLog struct {
	ID             uint64
	WebhookEventID uint64
	AttemptNo      int
	HTTPHeaders    map[string]string
	RemoteAddr     *string
	Processed      bool
	HTTPStatus     int
	Error          *string
	CreatedAt      time.Time
}
