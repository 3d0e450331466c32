package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	PublishPaymentStatusChanged(ctx context.Context, correlationID string, event PaymentStatusChanged) error
}

type natsConn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	conn          natsConn
	subjectPrefix string
}

func NewNATSPublisher(conn natsConn, subjectPrefix string) *NATSPublisher {
	subjectPrefix = strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if subjectPrefix == "" {
		subjectPrefix = "payments"
	}
	return &NATSPublisher{conn: conn, subjectPrefix: subjectPrefix}
}

func (p *NATSPublisher) PublishPaymentStatusChanged(_ context.Context, correlationID string, event PaymentStatusChanged) error {
	envelope, err := NewEnvelope(TypePaymentStatusChanged, event.PaymentID, event)
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}
	envelope.WithCorrelation(correlationID)

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.conn.Publish(p.subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject(), err)
	}
	return nil
}

func (p *NATSPublisher) subject() string {
	return p.subjectPrefix + ".status_changed"
}

func Connect(url, clientName string, logger logrus.FieldLogger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return conn, nil
}

type NoopPublisher struct{}

func (NoopPublisher) PublishPaymentStatusChanged(context.Context, string, PaymentStatusChanged) error {
	return nil
}
