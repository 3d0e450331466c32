package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/provider"
)

// RunReconcileBatch asks providers about payments that have been PENDING
// longer than the stale window and applies any settled outcome.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	before := s.now().Add(-s.cfg.ReconcileStaleAfter)
	items, err := s.uow.Repositories().Payments.ListPendingBefore(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var (
		firstErr error
		applied  int
	)
	for _, payment := range items {
		if payment == nil || payment.ProviderPaymentID == nil || strings.TrimSpace(*payment.ProviderPaymentID) == "" {
			continue
		}

		providerClient, err := s.providers.Get(payment.Provider)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		checkoutID := strings.TrimSpace(*payment.ProviderPaymentID)
		outcome, err := s.lookupOutcome(ctx, providerClient, checkoutID)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		target, ok := reconcileTargetStatus(outcome)
		if !ok {
			continue
		}

		_, changed, err := s.applyTransition(ctx, transitionCommand{
			paymentID:  payment.ID,
			to:         target,
			reason:     reasonReconcile,
			actor:      entity.SystemActor(),
			onlyFrom:   entity.PaymentStatusPending,
			provider:   payment.Provider,
			checkoutID: checkoutID,
		})
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if changed {
			applied++
		}
	}

	s.logger.WithFields(logrus.Fields{"scanned": len(items), "applied": applied}).Info("reconcile batch finished")
	return firstErr
}

// RunExpirePendingBatch cancels checkouts abandoned for longer than the
// pending timeout and reopens their investments.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.PendingTimeout)
	items, err := s.uow.Repositories().Payments.ListPendingBefore(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var (
		firstErr error
		expired  int
	)
	for _, payment := range items {
		if payment == nil {
			continue
		}

		_, changed, err := s.applyTransition(ctx, transitionCommand{
			paymentID: payment.ID,
			to:        entity.PaymentStatusCanceled,
			reason:    reasonPendingExpiry,
			actor:     entity.SystemActor(),
			onlyFrom:  entity.PaymentStatusPending,
		})
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if changed {
			expired++
		}
	}

	s.logger.WithFields(logrus.Fields{"scanned": len(items), "expired": expired}).Info("expire pending batch finished")
	return firstErr
}

func (s *PaymentService) lookupOutcome(ctx context.Context, providerClient provider.Provider, providerPaymentID string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	defer cancel()

	outcome, err := providerClient.GetPaymentStatus(callCtx, providerPaymentID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return strings.ToLower(strings.TrimSpace(outcome)), nil
}

func reconcileTargetStatus(outcome string) (entity.PaymentStatus, bool) {
	switch outcome {
	case provider.OutcomeSuccess:
		return entity.PaymentStatusSuccess, true
	case provider.OutcomeFailed:
		return entity.PaymentStatusFailed, true
	case provider.OutcomeCanceled:
		return entity.PaymentStatusCanceled, true
	default:
		return "", false
	}
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
