// Package events publishes payment status changes to downstream readers.
package events

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

const (
	TypePaymentStatusChanged = "payment.status_changed"
	aggregatePayment         = "payment"
)

type Envelope struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

type PaymentStatusChanged struct {
	PaymentID    uint64  `json:"payment_id"`
	InvestmentID uint64  `json:"investment_id"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Version      int64   `json:"version"`
	Reason       string  `json:"reason"`
	ActorType    string  `json:"actor_type"`
	ActorID      *uint64 `json:"actor_id,omitempty"`
}

func NewPaymentStatusChanged(payment *entity.Payment, entry *entity.TransitionLogEntry) PaymentStatusChanged {
	return PaymentStatusChanged{
		PaymentID:    payment.ID,
		InvestmentID: payment.InvestmentID,
		From:         string(entry.FromStatus),
		To:           string(entry.ToStatus),
		Version:      payment.Version,
		Reason:       entry.Reason,
		ActorType:    string(entry.ActorType),
		ActorID:      entry.ActorID,
	}
}

func NewEnvelope(eventType string, aggregateID uint64, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregatePayment,
		AggregateID:   strconv.FormatUint(aggregateID, 10),
		Data:          raw,
	}, nil
}

func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	e.CorrelationID = correlationID
	return e
}
