package payment

import (
	"context"
	"time"
)

// ChargeRequest is the wire-level charge call. Amounts are integer minor
// currency units; callers convert from decimal before building one.
type ChargeRequest struct {
	AmountMinor    int64
	Currency       string
	SourceToken    string
	IdempotencyKey string
	OrderRef       string
}

// PaymentRecord is the remote gateway's view of a completed charge.
type PaymentRecord struct {
	ID          string
	OrderRef    string
	AmountMinor int64
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Charger is the remote payment gateway. Implementations should surface
// failures as structured errors so classification can decide retryability;
// unstructured errors are treated as non-retryable.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (PaymentRecord, error)
}
