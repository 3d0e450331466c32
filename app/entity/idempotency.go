package entity

import "time"

const IdempotencyScopeInitiatePayment = "initiate_payment"

type IdempotencyRecord struct {
	ID             uint64
	UserID         uint64
	Scope          string
	IdempotencyKey string
	RequestHash    string
	PaymentID      uint64
	ResponseCode   int
	ResponseBody   map[string]any
	CreatedAt      time.Time
}
