// Package statemachine applies payment status changes against the allowed
// transition table and records every applied change in the transition log.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

var ErrIllegalTransition = errors.New("illegal payment transition")

type TransitionError struct {
	From entity.PaymentStatus
	To   entity.PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal payment transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

type TransitionRecorder interface {
	Append(ctx context.Context, entry *entity.TransitionLogEntry) error
}

type Machine struct {
	now func() time.Time
}

func New() *Machine {
	return &Machine{now: func() time.Time { return time.Now().UTC() }}
}

func NewWithClock(now func() time.Time) *Machine {
	return &Machine{now: now}
}

// Transition moves payment to the requested status. A transition to the
// current status is a no-op and returns a nil entry. On any error the payment
// is left untouched.
func (m *Machine) Transition(
	ctx context.Context,
	recorder TransitionRecorder,
	payment *entity.Payment,
	to entity.PaymentStatus,
	reason string,
	actor entity.Actor,
) (*entity.TransitionLogEntry, error) {
	from := payment.Status
	if from == to {
		return nil, nil
	}
	if !from.CanTransitionTo(to) {
		return nil, &TransitionError{From: from, To: to}
	}

	now := m.now()
	entry := &entity.TransitionLogEntry{
		PaymentID:  payment.ID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     strings.TrimSpace(reason),
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		CreatedAt:  now,
	}
	if err := recorder.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append transition log: %w", err)
	}

	payment.Status = to
	payment.Version++
	payment.LastEventAt = &now
	payment.UpdatedAt = now
	if to == entity.PaymentStatusSuccess {
		confirmedAt := now
		payment.ConfirmedAt = &confirmedAt
	}

	return entry, nil
}
