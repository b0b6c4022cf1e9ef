package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/telemetry"
)

// ExecutorConfig bounds a retried operation. Total wall-clock time never
// exceeds MaxAttempts * (PerAttemptTimeout + CapDelay).
type ExecutorConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	PerAttemptTimeout time.Duration `yaml:"per_attempt_timeout"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	CapDelay          time.Duration `yaml:"cap_delay"`
	JitterMax         time.Duration `yaml:"jitter_max"`
}

// DefaultExecutorConfig provides sensible defaults.
var DefaultExecutorConfig = ExecutorConfig{
	MaxAttempts:       3,
	PerAttemptTimeout: 30 * time.Second,
	BaseDelay:         1 * time.Second,
	CapDelay:          30 * time.Second,
	JitterMax:         500 * time.Millisecond,
}

// Operation is a single logical call against an external dependency. The
// attempt index is passed so callers can vary per-attempt state such as
// idempotency keys.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Outcome is the terminal result of a retried operation, carrying the full
// attempt history rather than only the last error.
type Outcome[T any] struct {
	Value    T
	Attempts int
	Duration time.Duration
	Err      *OperationError
}

func (o Outcome[T]) Success() bool { return o.Err == nil }

// Executor runs operations with retry, backoff, and circuit gating.
type Executor struct {
	cfg      ExecutorConfig
	breaker  *CircuitBreaker
	recorder telemetry.Recorder
	log      *slog.Logger

	// jitter is swapped out in tests for determinism.
	jitter func(max time.Duration) time.Duration
}

// NewExecutor creates an executor. Zero config fields fall back to
// defaults; recorder may be nil.
func NewExecutor(cfg ExecutorConfig, breaker *CircuitBreaker, recorder telemetry.Recorder) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultExecutorConfig.MaxAttempts
	}
	if cfg.PerAttemptTimeout <= 0 {
		cfg.PerAttemptTimeout = DefaultExecutorConfig.PerAttemptTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultExecutorConfig.BaseDelay
	}
	if cfg.CapDelay <= 0 {
		cfg.CapDelay = DefaultExecutorConfig.CapDelay
	}
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &Executor{
		cfg:      cfg,
		breaker:  breaker,
		recorder: recorder,
		log:      slog.Default().With("component", "executor"),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		},
	}
}

// Breaker exposes the executor's circuit breaker for status inspection.
func (e *Executor) Breaker() *CircuitBreaker { return e.breaker }

// Execute runs op under key with up to MaxAttempts attempts. Each attempt
// runs under a hard timeout that cancels the in-flight call. The circuit
// breaker is consulted before every attempt; when it blocks, the outcome
// carries a synthetic CIRCUIT_BREAKER_OPEN error and no remote call is made.
func Execute[T any](ctx context.Context, e *Executor, key string, op Operation[T]) Outcome[T] {
	var zero T
	start := time.Now()
	var lastErr *OperationError
	attempts := 0

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if !e.breaker.Allow(key) {
			out := Outcome[T]{
				Attempts: attempt,
				Duration: time.Since(start),
				Err: &OperationError{
					Code:       "CIRCUIT_BREAKER_OPEN",
					Category:   CategoryCircuitOpen,
					Detail:     "circuit open for " + key,
					Retryable:  true,
					RetryAfter: e.breaker.RetryAfter(key),
				},
			}
			e.recordOutcome(key, "circuit_open")
			return out
		}

		attempts = attempt + 1
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.PerAttemptTimeout)
		attemptStart := time.Now()
		value, err := op(attemptCtx, attempt)
		cancel()
		e.recordAttempt(key, attempt, time.Since(attemptStart), err)

		if err == nil {
			e.breaker.OnSuccess(key)
			e.recordOutcome(key, "success")
			return Outcome[T]{
				Value:    value,
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		lastErr = Classify(err)
		e.breaker.OnFailure(key)
		e.log.Warn("attempt failed",
			"key", key,
			"attempt", attempt+1,
			"code", lastErr.Code,
			"retryable", lastErr.Retryable,
		)

		if !lastErr.Retryable || attempt == e.cfg.MaxAttempts-1 {
			break
		}

		delay := e.backoff(attempt, lastErr.RetryAfter)
		select {
		case <-ctx.Done():
			e.recordOutcome(key, "canceled")
			return Outcome[T]{
				Value:    zero,
				Attempts: attempt + 1,
				Duration: time.Since(start),
				Err:      Classify(ctx.Err()),
			}
		case <-time.After(delay):
		}
	}

	e.recordOutcome(key, "exhausted")
	return Outcome[T]{
		Value:    zero,
		Attempts: attempts,
		Duration: time.Since(start),
		Err:      lastErr,
	}
}

// backoff computes min(base * 2^attempt, cap) + jitter, where a classifier
// hint replaces the configured base.
func (e *Executor) backoff(attempt int, hint time.Duration) time.Duration {
	return BackoffDelay(attempt, e.cfg.BaseDelay, e.cfg.CapDelay, hint) + e.jitter(e.cfg.JitterMax)
}

// BackoffDelay computes the exponential portion of a retry delay:
// min(base * 2^attempt, cap), with hint replacing base when present.
// Callers add their own jitter on top.
func BackoffDelay(attempt int, base, capDelay, hint time.Duration) time.Duration {
	if hint > 0 {
		base = hint
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(capDelay) {
		delay = float64(capDelay)
	}
	return time.Duration(delay)
}

func (e *Executor) recordAttempt(key string, attempt int, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	e.recorder.Record(telemetry.EventAttempt, d, map[string]string{
		"key":     key,
		"attempt": strconv.Itoa(attempt + 1),
		"result":  result,
	})
}

func (e *Executor) recordOutcome(key, result string) {
	e.recorder.Record(telemetry.EventOutcome, 0, map[string]string{
		"key":    key,
		"result": result,
	})
}
