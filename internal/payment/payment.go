package payment

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/alert"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
)

// DefaultBreakerKey is the circuit key charges run under.
const DefaultBreakerKey = "payment-gateway"

// ChargeInput is the caller-facing charge request with a decimal amount.
type ChargeInput struct {
	OrderRef    string
	Amount      float64
	Currency    string
	SourceToken string
}

// Config tunes the payment processor.
type Config struct {
	BreakerKey string `yaml:"breaker_key"`
}

// Processor binds the retrying executor to a card charge. Each attempt
// carries its own idempotency key so remote-side deduplication applies to
// exact retries but not to logically distinct attempts.
type Processor struct {
	cfg      Config
	exec     *resilience.Executor
	charger  Charger
	notifier alert.Notifier
	log      *slog.Logger

	// processStart anchors idempotency keys to this process lifetime.
	processStart time.Time
}

func NewProcessor(cfg Config, exec *resilience.Executor, charger Charger, notifier alert.Notifier) *Processor {
	if cfg.BreakerKey == "" {
		cfg.BreakerKey = DefaultBreakerKey
	}
	return &Processor{
		cfg:          cfg,
		exec:         exec,
		charger:      charger,
		notifier:     notifier,
		log:          slog.Default().With("component", "payment"),
		processStart: time.Now(),
	}
}

// Charge runs the charge with retry, backoff, and circuit gating. The
// returned outcome always carries the classified error on failure so the
// checkout flow can distinguish a decline from a transient outage.
func (p *Processor) Charge(ctx context.Context, in ChargeInput) resilience.Outcome[PaymentRecord] {
	amountMinor := MinorUnits(in.Amount)

	out := resilience.Execute(ctx, p.exec, p.cfg.BreakerKey, func(ctx context.Context, attempt int) (PaymentRecord, error) {
		return p.charger.Charge(ctx, ChargeRequest{
			AmountMinor:    amountMinor,
			Currency:       in.Currency,
			SourceToken:    in.SourceToken,
			IdempotencyKey: IdempotencyKey(in.OrderRef, attempt, p.processStart),
			OrderRef:       in.OrderRef,
		})
	})

	if out.Success() {
		p.log.Info("charge succeeded",
			"order_ref", in.OrderRef,
			"amount_minor", amountMinor,
			"currency", in.Currency,
			"attempts", out.Attempts)
		return out
	}

	p.log.Error("charge failed",
		"order_ref", in.OrderRef,
		"code", out.Err.Code,
		"category", out.Err.Category,
		"attempts", out.Attempts)

	// Exhausting retries on a transient failure means a customer was turned
	// away by our infrastructure, not their card. That gets paged.
	if out.Err.Retryable && out.Attempts > 0 {
		p.notifier.Notify(ctx, alert.SeverityCritical,
			"payment retries exhausted",
			"charge failed after all retry attempts",
			map[string]any{
				"order_ref": in.OrderRef,
				"code":      out.Err.Code,
				"category":  string(out.Err.Category),
				"attempts":  out.Attempts,
			})
	}
	return out
}

// MinorUnits converts a decimal amount to integer minor currency units,
// rounding half away from zero.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
