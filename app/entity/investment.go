package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvestmentStatus string

const (
	InvestmentStatusPending  InvestmentStatus = "PENDING"
	InvestmentStatusPaid     InvestmentStatus = "PAID"
	InvestmentStatusCanceled InvestmentStatus = "CANCELED"
)

type Investment struct {
	ID         uint64
	CampaignID uint64
	InvestorID uint64

	Amount   decimal.Decimal
	Currency string

	Status InvestmentStatus
	PaidAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncWithPayment moves the investment to the status implied by a payment
// outcome. It reports whether anything changed.
func (i *Investment) SyncWithPayment(status PaymentStatus, now time.Time) bool {
	switch status {
	case PaymentStatusSuccess:
		if i.Status == InvestmentStatusPaid {
			return false
		}
		i.Status = InvestmentStatusPaid
		paidAt := now
		i.PaidAt = &paidAt
		return true
	case PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		// The orchestrator only ever moves an investment to PAID or PENDING.
		if i.Status == InvestmentStatusPending {
			return false
		}
		i.Status = InvestmentStatusPending
		return true
	default:
		return false
	}
}
