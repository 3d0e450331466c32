package statemachine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

type recorderStub struct {
	entries []*entity.TransitionLogEntry
	err     error
}

func (r *recorderStub) Append(_ context.Context, entry *entity.TransitionLogEntry) error {
	if r.err != nil {
		return r.err
	}
	entry.ID = uint64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMachineForTest() *Machine {
	return NewWithClock(func() time.Time { return fixedNow })
}

func TestTransitionAppliesAllowedChange(t *testing.T) {
	recorder := &recorderStub{}
	payment := &entity.Payment{ID: 9, Status: entity.PaymentStatusPending, Version: 2}

	entry, err := newMachineForTest().Transition(context.Background(), recorder, payment, entity.PaymentStatusSuccess, "provider_webhook", entity.WebhookActor())
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, entity.PaymentStatusSuccess, payment.Status)
	assert.Equal(t, int64(3), payment.Version)
	require.NotNil(t, payment.LastEventAt)
	assert.Equal(t, fixedNow, *payment.LastEventAt)
	require.NotNil(t, payment.ConfirmedAt)
	assert.Equal(t, fixedNow, *payment.ConfirmedAt)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, uint64(9), recorder.entries[0].PaymentID)
	assert.Equal(t, entity.PaymentStatusPending, recorder.entries[0].FromStatus)
	assert.Equal(t, entity.PaymentStatusSuccess, recorder.entries[0].ToStatus)
	assert.Equal(t, entity.ActorWebhook, recorder.entries[0].ActorType)
	assert.Equal(t, "provider_webhook", recorder.entries[0].Reason)
}

func TestTransitionToSameStatusIsNoop(t *testing.T) {
	recorder := &recorderStub{}
	payment := &entity.Payment{ID: 1, Status: entity.PaymentStatusPending, Version: 4}

	entry, err := newMachineForTest().Transition(context.Background(), recorder, payment, entity.PaymentStatusPending, "retry", entity.SystemActor())
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, int64(4), payment.Version)
	assert.Nil(t, payment.LastEventAt)
	assert.Empty(t, recorder.entries)
}

func TestTransitionOnlyConfirmsOnSuccess(t *testing.T) {
	payment := &entity.Payment{ID: 1, Status: entity.PaymentStatusPending, Version: 1}

	_, err := newMachineForTest().Transition(context.Background(), &recorderStub{}, payment, entity.PaymentStatusFailed, "provider_webhook", entity.WebhookActor())
	require.NoError(t, err)
	assert.Nil(t, payment.ConfirmedAt)
}

func TestTransitionLegalityTable(t *testing.T) {
	legal := map[entity.PaymentStatus][]entity.PaymentStatus{
		entity.PaymentStatusCreated: {entity.PaymentStatusPending, entity.PaymentStatusCanceled},
		entity.PaymentStatusPending: {entity.PaymentStatusSuccess, entity.PaymentStatusFailed, entity.PaymentStatusCanceled},
		entity.PaymentStatusSuccess: {entity.PaymentStatusRefunded},
		entity.PaymentStatusFailed:  {entity.PaymentStatusPending},
	}
	isLegal := func(from, to entity.PaymentStatus) bool {
		for _, item := range legal[from] {
			if item == to {
				return true
			}
		}
		return false
	}

	for _, from := range entity.PaymentStatuses() {
		for _, to := range entity.PaymentStatuses() {
			if from == to {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				recorder := &recorderStub{}
				payment := &entity.Payment{ID: 5, Status: from, Version: 7}

				_, err := newMachineForTest().Transition(context.Background(), recorder, payment, to, "check", entity.SystemActor())
				if isLegal(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, payment.Status)
					assert.Equal(t, int64(8), payment.Version)
					assert.Len(t, recorder.entries, 1)
					return
				}

				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrIllegalTransition))
				var transitionErr *TransitionError
				require.True(t, errors.As(err, &transitionErr))
				assert.Equal(t, from, transitionErr.From)
				assert.Equal(t, to, transitionErr.To)
				assert.Equal(t, from, payment.Status)
				assert.Equal(t, int64(7), payment.Version)
				assert.Empty(t, recorder.entries)
			})
		}
	}
}

func TestTransitionLeavesPaymentUntouchedWhenLogFails(t *testing.T) {
	recorder := &recorderStub{err: errors.New("db down")}
	payment := &entity.Payment{ID: 1, Status: entity.PaymentStatusPending, Version: 1}

	_, err := newMachineForTest().Transition(context.Background(), recorder, payment, entity.PaymentStatusSuccess, "provider_webhook", entity.WebhookActor())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, entity.PaymentStatusPending, payment.Status)
	assert.Equal(t, int64(1), payment.Version)
	assert.Nil(t, payment.ConfirmedAt)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, entity.PaymentStatusCanceled.Terminal())
	assert.True(t, entity.PaymentStatusRefunded.Terminal())
	assert.False(t, entity.PaymentStatusFailed.Terminal())
	assert.False(t, entity.PaymentStatus("INIT").Valid())
}
