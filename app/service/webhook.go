package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/idempotency"
	"github.com/vibast-solutions/ms-go-investment-payments/app/provider"
	"github.com/vibast-solutions/ms-go-investment-payments/app/repository"
	"github.com/vibast-solutions/ms-go-investment-payments/app/statemachine"
)

const defaultWebhookEventType = "payment_status"

var errSupersededCheckout = errors.New("checkout was replaced by a newer one")

type webhookRequest interface {
	GetProvider() string
	GetProviderPaymentId() string
	GetProviderEventId() string
	GetEventType() string
	GetStatus() string
	GetPayload() map[string]any
}

// WebhookDelivery is the transport envelope of one provider callback.
type WebhookDelivery struct {
	RawBody    []byte
	Headers    http.Header
	RemoteAddr string
}

// HandleWebhook applies one provider outcome. Redeliveries, recognized by
// provider event id or payload hash, return the current payment untouched.
// Domain failures are committed on the event row before being returned;
// infrastructure failures roll the whole delivery back so the provider
// redelivers it.
func (s *PaymentService) HandleWebhook(ctx context.Context, req webhookRequest, delivery WebhookDelivery) (*entity.Payment, error) {
	providerPaymentID := strings.TrimSpace(req.GetProviderPaymentId())
	status := strings.ToLower(strings.TrimSpace(req.GetStatus()))
	if providerPaymentID == "" || status == "" {
		return nil, ErrInvalidRequest
	}

	providerClient, err := s.providers.Get(req.GetProvider())
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}
	providerCode := providerClient.Code()

	eventType := strings.TrimSpace(req.GetEventType())
	if eventType == "" {
		eventType = defaultWebhookEventType
	}
	providerEventID := optionalString(req.GetProviderEventId())

	payload := canonicalWebhookPayload(req.GetPayload(), providerPaymentID, providerEventID, status, eventType)
	payloadHash, err := idempotency.CanonicalHash(payload)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(logrus.Fields{
		"provider":            providerCode,
		"provider_payment_id": providerPaymentID,
		"payload_hash":        payloadHash,
	})

	duplicate, err := findWebhookDuplicate(ctx, s.uow.Repositories().WebhookEvents, providerCode, providerEventID, payloadHash)
	if err != nil {
		return nil, err
	}
	if duplicate != nil {
		logger.WithField("webhook_event_id", duplicate.ID).Info("duplicate webhook delivery")
		return s.currentPayment(ctx, providerCode, providerPaymentID)
	}

	signatureValid := providerClient.VerifyWebhookSignature(delivery.RawBody, delivery.Headers)
	if !signatureValid {
		logger.Warn("webhook signature did not verify")
	}

	var (
		result      *entity.Payment
		domainErr   error
		redelivered bool
	)
	effects := &commitEffects{}

	err = s.uow.WithinTx(ctx, func(repos repository.Repositories) error {
		event := &entity.WebhookEvent{
			Provider:        providerCode,
			ProviderEventID: providerEventID,
			EventType:       eventType,
			Payload:         payload,
			PayloadHash:     payloadHash,
			SignatureValid:  signatureValid,
			Status:          entity.WebhookEventReceived,
			ReceivedAt:      s.now(),
		}
		if err := repos.WebhookEvents.Create(ctx, event); err != nil {
			if errors.Is(err, repository.ErrWebhookEventExists) {
				redelivered = true
				return nil
			}
			return err
		}

		current, err := repos.Payments.FindByProviderPaymentID(ctx, providerCode, providerPaymentID)
		if err != nil {
			return err
		}
		if current == nil {
			domainErr = ErrPaymentNotFound
			return s.finishWebhook(ctx, repos, event, delivery, entity.WebhookEventIgnored, http.StatusNotFound, domainErr)
		}

		investment, payment, err := lockPayment(ctx, repos, current.ID)
		if err != nil {
			return err
		}
		if !payment.HasCheckout(providerCode, providerPaymentID) {
			logger.WithField("payment_id", payment.ID).Warn("webhook for superseded checkout")
			result = payment
			return s.finishWebhook(ctx, repos, event, delivery, entity.WebhookEventIgnored, http.StatusOK, errSupersededCheckout)
		}

		entry, err := s.machine.Transition(ctx, repos.Transitions, payment, webhookTargetStatus(status), reasonWebhook, entity.WebhookActor())
		if err != nil {
			if errors.Is(err, statemachine.ErrIllegalTransition) {
				domainErr = err
				return s.finishWebhook(ctx, repos, event, delivery, entity.WebhookEventFailed, http.StatusConflict, domainErr)
			}
			return err
		}

		if entry != nil {
			if err := repos.Payments.Update(ctx, payment); err != nil {
				return err
			}
			if err := s.syncInvestment(ctx, repos, investment, payment.Status); err != nil {
				return err
			}
			effects.record(payment, entry)
		}

		result = payment
		return s.finishWebhook(ctx, repos, event, delivery, entity.WebhookEventProcessed, http.StatusOK, nil)
	})
	if err != nil {
		return nil, err
	}
	if redelivered {
		logger.Info("concurrent duplicate webhook delivery")
		return s.currentPayment(ctx, providerCode, providerPaymentID)
	}

	s.afterCommit(ctx, effects)
	if domainErr != nil {
		logger.WithError(domainErr).Info("webhook rejected")
		return nil, domainErr
	}
	return result, nil
}

func findWebhookDuplicate(
	ctx context.Context,
	store repository.WebhookEventStore,
	providerCode string,
	providerEventID *string,
	payloadHash string,
) (*entity.WebhookEvent, error) {
	if providerEventID != nil {
		return store.FindByProviderEventID(ctx, providerCode, *providerEventID)
	}
	return store.FindByPayloadHash(ctx, providerCode, payloadHash)
}

func (s *PaymentService) currentPayment(ctx context.Context, providerCode, providerPaymentID string) (*entity.Payment, error) {
	payment, err := s.uow.Repositories().Payments.FindByProviderPaymentID(ctx, providerCode, providerPaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// finishWebhook settles the event row and writes its delivery record once the
// outcome is known.
func (s *PaymentService) finishWebhook(
	ctx context.Context,
	repos repository.Repositories,
	event *entity.WebhookEvent,
	delivery WebhookDelivery,
	status entity.WebhookEventStatus,
	httpStatus int,
	cause error,
) error {
	now := s.now()
	event.Status = status
	event.ProcessedAt = &now

	var errorMessage *string
	if cause != nil {
		msg := truncate(cause.Error(), maxErrorMessageLength)
		errorMessage = &msg
		event.ErrorMessage = &msg
	}

	if err := repos.WebhookEvents.UpdateStatus(ctx, event); err != nil {
		return err
	}

	return repos.WebhookEvents.CreateDeliveryLog(ctx, &entity.WebhookDeliveryLog{
		WebhookEventID: event.ID,
		AttemptNo:      1,
		HTTPHeaders:    flattenHeaders(delivery.Headers),
		RemoteAddr:     optionalString(delivery.RemoteAddr),
		Processed:      status == entity.WebhookEventProcessed,
		HTTPStatus:     httpStatus,
		Error:          errorMessage,
		CreatedAt:      now,
	})
}

func webhookTargetStatus(outcome string) entity.PaymentStatus {
	if outcome == provider.OutcomeSuccess {
		return entity.PaymentStatusSuccess
	}
	return entity.PaymentStatusFailed
}

// canonicalWebhookPayload folds the routing fields into the payload so two
// deliveries hash alike only when they report the same thing.
func canonicalWebhookPayload(
	payload map[string]any,
	providerPaymentID string,
	providerEventID *string,
	status string,
	eventType string,
) map[string]any {
	out := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		out[k] = v
	}

	out["provider_payment_id"] = providerPaymentID
	if providerEventID != nil {
		out["provider_event_id"] = *providerEventID
	} else {
		out["provider_event_id"] = nil
	}
	out["status"] = status
	out["event_type"] = eventType

	return out
}

var redactedHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
	"X-Api-Key":     {},
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := redactedHeaders[canonical]; skip {
			continue
		}
		out[canonical] = strings.Join(values, ", ")
	}
	return out
}
