package service

import (
	"errors"

	"github.com/vibast-solutions/ms-go-investment-payments/app/idempotency"
	"github.com/vibast-solutions/ms-go-investment-payments/app/statemachine"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvestmentNotFound  = errors.New("investment not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrForbidden           = errors.New("investment belongs to another user")
	ErrAlreadyPaid         = errors.New("investment is already paid")
	ErrIdempotencyConflict = idempotency.ErrConflict
	ErrIllegalTransition   = statemachine.ErrIllegalTransition
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderUnsupported = errors.New("provider is not supported")
)
