package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/alert"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
)

type scriptedCharger struct {
	mu    sync.Mutex
	errs  []error // consumed one per call; nil means success
	calls []ChargeRequest
}

func (c *scriptedCharger) Charge(_ context.Context, req ChargeRequest) (PaymentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return PaymentRecord{}, err
		}
	}
	return PaymentRecord{
		ID:          "pay_test",
		OrderRef:    req.OrderRef,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Status:      "COMPLETED",
		CreatedAt:   time.Now(),
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ alert.Severity, title, _ string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func newTestProcessor(t *testing.T, charger Charger) (*Processor, *recordingNotifier) {
	t.Helper()
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{Threshold: 100, ResetWindow: time.Minute})
	exec := resilience.NewExecutor(resilience.ExecutorConfig{
		MaxAttempts:       3,
		PerAttemptTimeout: time.Second,
		BaseDelay:         time.Millisecond,
		CapDelay:          2 * time.Millisecond,
	}, breaker, nil)
	notifier := &recordingNotifier{}
	return NewProcessor(Config{}, exec, charger, notifier), notifier
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := IdempotencyKey("order-123", 0, start)
	b := IdempotencyKey("order-123", 0, start)
	if a != b {
		t.Errorf("same inputs produced different keys: %s vs %s", a, b)
	}
	if len(a) > maxIdempotencyKeyLen {
		t.Errorf("key length %d exceeds limit %d", len(a), maxIdempotencyKeyLen)
	}

	if a == IdempotencyKey("order-123", 1, start) {
		t.Error("different attempts produced the same key")
	}
	if a == IdempotencyKey("order-456", 0, start) {
		t.Error("different orders produced the same key")
	}
	if a == IdempotencyKey("order-123", 0, start.Add(time.Second)) {
		t.Error("different process starts produced the same key")
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{0, 0},
		{1, 100},
		{19.99, 1999},
		{10.005, 1001},
		{0.1, 10},
		{1234.56, 123456},
	}
	for _, tt := range tests {
		if got := MinorUnits(tt.amount); got != tt.want {
			t.Errorf("MinorUnits(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestChargeRetriesTransientThenSucceeds(t *testing.T) {
	charger := &scriptedCharger{errs: []error{
		&resilience.RemoteError{Status: 503, Code: "SERVICE_UNAVAILABLE", Detail: "maintenance"},
		&resilience.RemoteError{Status: 503, Code: "SERVICE_UNAVAILABLE", Detail: "maintenance"},
		nil,
	}}
	p, notifier := newTestProcessor(t, charger)

	out := p.Charge(context.Background(), ChargeInput{
		OrderRef:    "order-1",
		Amount:      25.50,
		Currency:    "USD",
		SourceToken: "cnon:test",
	})

	if !out.Success() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if out.Value.AmountMinor != 2550 {
		t.Errorf("amount minor = %d, want 2550", out.Value.AmountMinor)
	}
	if len(notifier.titles) != 0 {
		t.Errorf("unexpected alerts: %v", notifier.titles)
	}

	// Each attempt must carry a distinct idempotency key anchored to the
	// same order.
	seen := make(map[string]bool)
	for _, call := range charger.calls {
		if call.OrderRef != "order-1" {
			t.Errorf("order ref = %s", call.OrderRef)
		}
		if seen[call.IdempotencyKey] {
			t.Errorf("idempotency key reused across attempts: %s", call.IdempotencyKey)
		}
		seen[call.IdempotencyKey] = true
	}
}

func TestChargeDeclineFailsFastWithoutAlert(t *testing.T) {
	charger := &scriptedCharger{errs: []error{
		&resilience.RemoteError{Status: 402, Code: "CARD_DECLINED", Detail: "declined"},
	}}
	p, notifier := newTestProcessor(t, charger)

	out := p.Charge(context.Background(), ChargeInput{OrderRef: "order-2", Amount: 10, Currency: "USD"})

	if out.Success() {
		t.Fatal("expected failure")
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a decline", out.Attempts)
	}
	if out.Err.Category != resilience.CategoryValidation {
		t.Errorf("category = %s, want VALIDATION", out.Err.Category)
	}
	if len(charger.calls) != 1 {
		t.Errorf("charger called %d times, want 1", len(charger.calls))
	}
	if len(notifier.titles) != 0 {
		t.Errorf("decline must not page: %v", notifier.titles)
	}
}

func TestChargeExhaustionRaisesAlert(t *testing.T) {
	charger := &scriptedCharger{errs: []error{
		&resilience.RemoteError{Status: 500, Code: "INTERNAL_SERVER_ERROR", Detail: "boom"},
		&resilience.RemoteError{Status: 500, Code: "INTERNAL_SERVER_ERROR", Detail: "boom"},
		&resilience.RemoteError{Status: 500, Code: "INTERNAL_SERVER_ERROR", Detail: "boom"},
	}}
	p, notifier := newTestProcessor(t, charger)

	out := p.Charge(context.Background(), ChargeInput{OrderRef: "order-3", Amount: 10, Currency: "USD"})

	if out.Success() {
		t.Fatal("expected failure")
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "payment retries exhausted" {
		t.Errorf("alerts = %v, want one exhaustion alert", notifier.titles)
	}
}
