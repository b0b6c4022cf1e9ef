package resilience

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, window time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(BreakerConfig{Threshold: threshold, ResetWindow: window})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.OnFailure("square")
		if !cb.Allow("square") {
			t.Fatalf("circuit open after %d failures, threshold is 3", i+1)
		}
	}

	cb.OnFailure("square")
	if cb.Allow("square") {
		t.Fatal("circuit should block after threshold failures")
	}

	st := cb.Status("square")
	if st.State != StateOpen {
		t.Errorf("state = %s, want OPEN", st.State)
	}
	if st.ReopenAt.IsZero() {
		t.Error("open circuit must have reopenAt set")
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	cb, now := newTestBreaker(2, time.Minute)

	cb.OnFailure("square")
	cb.OnFailure("square")
	if cb.Allow("square") {
		t.Fatal("circuit should be open")
	}

	// Window elapses: exactly one probe is admitted.
	*now = now.Add(61 * time.Second)
	if !cb.Allow("square") {
		t.Fatal("expected probe after reset window")
	}
	if cb.Status("square").State != StateHalfOpen {
		t.Errorf("state = %s, want HALF_OPEN", cb.Status("square").State)
	}
	if cb.Allow("square") {
		t.Fatal("only one probe may run while half-open")
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(2, time.Minute)

	cb.OnFailure("square")
	cb.OnFailure("square")
	*now = now.Add(2 * time.Minute)
	if !cb.Allow("square") {
		t.Fatal("expected probe")
	}

	cb.OnSuccess("square")
	st := cb.Status("square")
	if st.State != StateClosed {
		t.Errorf("state = %s, want CLOSED", st.State)
	}
	if st.FailureCount != 0 {
		t.Errorf("failureCount = %d, want 0", st.FailureCount)
	}
	if !cb.Allow("square") {
		t.Error("closed circuit must allow attempts")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(2, time.Minute)

	cb.OnFailure("square")
	cb.OnFailure("square")
	*now = now.Add(2 * time.Minute)
	if !cb.Allow("square") {
		t.Fatal("expected probe")
	}

	cb.OnFailure("square")
	if cb.Status("square").State != StateOpen {
		t.Errorf("state = %s, want OPEN after failed probe", cb.Status("square").State)
	}
	if cb.Allow("square") {
		t.Error("reopened circuit must block")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.OnFailure("square")
	cb.OnFailure("square")
	cb.OnSuccess("square")

	if got := cb.Status("square").FailureCount; got != 0 {
		t.Errorf("failureCount = %d, want 0 after success", got)
	}

	// Counting starts over: two more failures should not trip it.
	cb.OnFailure("square")
	cb.OnFailure("square")
	if !cb.Allow("square") {
		t.Error("circuit tripped early, count was not reset")
	}
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	cb.OnFailure("square")
	if cb.Allow("square") {
		t.Fatal("square circuit should be open")
	}
	if !cb.Allow("shippo") {
		t.Error("unrelated key must not be affected")
	}
}

func TestBreakerRetryAfter(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.OnFailure("square")
	if got := cb.RetryAfter("square"); got != time.Minute {
		t.Errorf("RetryAfter = %v, want 1m", got)
	}

	*now = now.Add(40 * time.Second)
	if got := cb.RetryAfter("square"); got != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", got)
	}
}

func TestBreakerTransitionCallback(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	var transitions []CircuitState
	cb.OnTransition(func(key string, from, to CircuitState) {
		transitions = append(transitions, to)
	})

	cb.OnFailure("square")          // -> OPEN
	*now = now.Add(2 * time.Minute) //
	cb.Allow("square")              // -> HALF_OPEN
	cb.OnSuccess("square")          // -> CLOSED

	want := []CircuitState{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d: %v", len(transitions), len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}
