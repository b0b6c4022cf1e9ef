package resilience

import (
	"sync"
	"time"
)

// CircuitState is the gate position for one dependency key.
type CircuitState string

const (
	StateClosed   CircuitState = "CLOSED"
	StateOpen     CircuitState = "OPEN"
	StateHalfOpen CircuitState = "HALF_OPEN"
)

// BreakerConfig tunes when a circuit trips and how long it stays open.
type BreakerConfig struct {
	Threshold   int           `yaml:"threshold"`    // consecutive failures before opening
	ResetWindow time.Duration `yaml:"reset_window"` // how long an open circuit blocks attempts
}

// DefaultBreakerConfig matches the payment gateway defaults.
var DefaultBreakerConfig = BreakerConfig{
	Threshold:   5,
	ResetWindow: 60 * time.Second,
}

// CircuitStatus is a point-in-time snapshot of one circuit, safe to hand
// to the ops surface and the alert watcher.
type CircuitStatus struct {
	Key           string       `json:"key"`
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	LastFailureAt time.Time    `json:"last_failure_at,omitzero"`
	ReopenAt      time.Time    `json:"reopen_at,omitzero"`
}

type circuit struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	lastFailureAt time.Time
	reopenAt      time.Time
	probing       bool // a HALF_OPEN trial attempt is in flight
}

// CircuitBreaker gates attempts per dependency key. Each key has its own
// lock so unrelated dependencies never serialize on each other; the outer
// map lock is held only to look up or create an entry.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	onTransition func(key string, from, to CircuitState)

	mu       sync.RWMutex
	circuits map[string]*circuit
}

// NewCircuitBreaker creates a breaker with the given config. Zero config
// fields fall back to defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerConfig.Threshold
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultBreakerConfig.ResetWindow
	}
	return &CircuitBreaker{
		cfg:      cfg,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// OnTransition registers a callback invoked after every state change,
// outside the per-key lock. Used to feed telemetry.
func (cb *CircuitBreaker) OnTransition(fn func(key string, from, to CircuitState)) {
	cb.onTransition = fn
}

func (cb *CircuitBreaker) get(key string) *circuit {
	cb.mu.RLock()
	c, ok := cb.circuits[key]
	cb.mu.RUnlock()
	if ok {
		return c
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok = cb.circuits[key]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	cb.circuits[key] = c
	return c
}

// Allow reports whether a new attempt against key may be made. An open
// circuit flips to HALF_OPEN lazily once its reset window has elapsed, and
// HALF_OPEN lets exactly one probe through until OnSuccess or OnFailure
// resolves it.
func (cb *CircuitBreaker) Allow(key string) bool {
	c := cb.get(key)
	c.mu.Lock()

	var transition [2]CircuitState
	notify := false
	allowed := true

	switch c.state {
	case StateOpen:
		if cb.now().Before(c.reopenAt) {
			allowed = false
			break
		}
		transition = [2]CircuitState{StateOpen, StateHalfOpen}
		notify = true
		c.state = StateHalfOpen
		c.probing = true
	case StateHalfOpen:
		if c.probing {
			allowed = false
			break
		}
		c.probing = true
	}

	c.mu.Unlock()
	if notify && cb.onTransition != nil {
		cb.onTransition(key, transition[0], transition[1])
	}
	return allowed
}

// OnSuccess records a successful attempt. The failure count always resets;
// a HALF_OPEN or OPEN circuit closes.
func (cb *CircuitBreaker) OnSuccess(key string) {
	c := cb.get(key)
	c.mu.Lock()

	from := c.state
	c.failures = 0
	c.probing = false
	c.state = StateClosed
	c.reopenAt = time.Time{}

	c.mu.Unlock()
	if from != StateClosed && cb.onTransition != nil {
		cb.onTransition(key, from, StateClosed)
	}
}

// OnFailure records a failed attempt. A HALF_OPEN probe failure reopens
// immediately; a CLOSED circuit opens once it reaches the threshold.
func (cb *CircuitBreaker) OnFailure(key string) {
	c := cb.get(key)
	c.mu.Lock()

	now := cb.now()
	from := c.state
	c.failures++
	c.lastFailureAt = now
	c.probing = false

	opened := false
	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.reopenAt = now.Add(cb.cfg.ResetWindow)
		opened = true
	case StateClosed:
		if c.failures >= cb.cfg.Threshold {
			c.state = StateOpen
			c.reopenAt = now.Add(cb.cfg.ResetWindow)
			opened = true
		}
	}

	c.mu.Unlock()
	if opened && cb.onTransition != nil {
		cb.onTransition(key, from, StateOpen)
	}
}

// RetryAfter returns how long until an open circuit for key will admit a
// probe. Zero for circuits that are not blocking.
func (cb *CircuitBreaker) RetryAfter(key string) time.Duration {
	c := cb.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return 0
	}
	remaining := c.reopenAt.Sub(cb.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot for one key.
func (cb *CircuitBreaker) Status(key string) CircuitStatus {
	c := cb.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	return CircuitStatus{
		Key:           key,
		State:         c.state,
		FailureCount:  c.failures,
		LastFailureAt: c.lastFailureAt,
		ReopenAt:      c.reopenAt,
	}
}

// Snapshot returns the status of every known circuit.
func (cb *CircuitBreaker) Snapshot() []CircuitStatus {
	cb.mu.RLock()
	keys := make([]string, 0, len(cb.circuits))
	for k := range cb.circuits {
		keys = append(keys, k)
	}
	cb.mu.RUnlock()

	out := make([]CircuitStatus, 0, len(keys))
	for _, k := range keys {
		out = append(out, cb.Status(k))
	}
	return out
}
