package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
)

const (
	defaultWatchInterval = 10 * time.Second
	defaultCooldown      = 300 * time.Second
)

// WatcherConfig tunes the circuit watcher.
type WatcherConfig struct {
	Interval time.Duration `yaml:"interval"`
	Cooldown time.Duration `yaml:"cooldown"` // minimum gap between repeat alerts per key
}

type circuitAlertState struct {
	active         bool
	triggeredAt    time.Time
	lastNotifiedAt time.Time
}

// CircuitWatcher raises an alert whenever a circuit stays open, and a
// resolution notice when it closes again. One alert per key per cooldown
// window, so a flapping dependency doesn't flood the fan-out.
type CircuitWatcher struct {
	cfg      WatcherConfig
	breaker  *resilience.CircuitBreaker
	notifier Notifier
	now      func() time.Time
	log      *slog.Logger

	states map[string]circuitAlertState
}

// NewCircuitWatcher creates a watcher over the given breaker.
func NewCircuitWatcher(cfg WatcherConfig, breaker *resilience.CircuitBreaker, notifier Notifier) *CircuitWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWatchInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &CircuitWatcher{
		cfg:      cfg,
		breaker:  breaker,
		notifier: notifier,
		now:      time.Now,
		log:      slog.Default().With("component", "circuit-watcher"),
		states:   make(map[string]circuitAlertState),
	}
}

// Run evaluates circuits on a fixed interval until ctx is canceled.
func (w *CircuitWatcher) Run(ctx context.Context) {
	w.log.Info("circuit watcher started", "interval", w.cfg.Interval, "cooldown", w.cfg.Cooldown)

	w.runCycle(ctx)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("circuit watcher stopped")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *CircuitWatcher) runCycle(ctx context.Context) {
	now := w.now()
	for _, st := range w.breaker.Snapshot() {
		w.evaluate(ctx, now, st)
	}
}

func (w *CircuitWatcher) evaluate(ctx context.Context, now time.Time, st resilience.CircuitStatus) {
	state := w.states[st.Key]
	open := st.State == resilience.StateOpen

	if open {
		if !state.active {
			state.active = true
			state.triggeredAt = now
			state.lastNotifiedAt = now
			w.states[st.Key] = state
			w.notifier.Notify(ctx, SeverityCritical,
				"circuit breaker open",
				"external dependency is failing; calls are being short-circuited",
				map[string]any{
					"key":           st.Key,
					"failure_count": st.FailureCount,
					"reopen_at":     st.ReopenAt,
				})
			return
		}
		if now.Sub(state.lastNotifiedAt) < w.cfg.Cooldown {
			return
		}
		state.lastNotifiedAt = now
		w.states[st.Key] = state
		w.notifier.Notify(ctx, SeverityCritical,
			"circuit breaker still open",
			"dependency has been failing since "+state.triggeredAt.Format(time.RFC3339),
			map[string]any{
				"key":           st.Key,
				"failure_count": st.FailureCount,
				"open_for":      now.Sub(state.triggeredAt).String(),
			})
		return
	}

	if state.active {
		delete(w.states, st.Key)
		w.notifier.Notify(ctx, SeverityInfo,
			"circuit breaker recovered",
			"dependency is accepting calls again",
			map[string]any{"key": st.Key},
		)
	}
}
