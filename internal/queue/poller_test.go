package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage/memory"
)

func TestRecoverReadmitsStaleProcessingJobs(t *testing.T) {
	store := memory.NewMemoryStorage()
	repo := memory.NewJobRepo(store)

	// A row stuck in PROCESSING from a crashed process: present in the
	// store, unknown to the in-memory table.
	stale := domain.NewJob("order.created", []byte(`{}`), nil, 3)
	stale.Status = domain.JobProcessing
	if err := repo.CreateJob(context.Background(), stale); err != nil {
		t.Fatal(err)
	}

	q := New(Config{}, repo, memory.NewDeadLetterRepo(store), nil)
	q.jitter = func(time.Duration) time.Duration { return 0 }

	calls := 0
	_ = q.Register("order.created", func(ctx context.Context, job *domain.Job) error {
		calls++
		if job.ID != stale.ID {
			t.Errorf("dispatched job %s, want recovered job %s", job.ID, stale.ID)
		}
		return nil
	})

	cycle(q)

	if calls != 1 {
		t.Fatalf("recovered job was not dispatched, calls = %d", calls)
	}
}

// hookedJobStore invokes onUpdate before delegating UpdateJob.
type hookedJobStore struct {
	storage.JobStore
	onUpdate func(id string)
}

func (s hookedJobStore) UpdateJob(ctx context.Context, id string, u storage.JobUpdate) error {
	if s.onUpdate != nil {
		s.onUpdate(id)
	}
	return s.JobStore.UpdateJob(ctx, id, u)
}

func TestRecoverPersistsOutsideTableLock(t *testing.T) {
	store := memory.NewMemoryStorage()
	repo := memory.NewJobRepo(store)

	stale := domain.NewJob("order.created", []byte(`{}`), nil, 3)
	stale.Status = domain.JobProcessing
	if err := repo.CreateJob(context.Background(), stale); err != nil {
		t.Fatal(err)
	}

	// A slow store write during recovery must not block claiming: the
	// table lock has to be free while UpdateJob runs.
	var q *Queue
	lockHeld := false
	hooked := hookedJobStore{JobStore: repo, onUpdate: func(string) {
		if !q.mu.TryLock() {
			lockHeld = true
			return
		}
		q.mu.Unlock()
	}}

	q = New(Config{}, hooked, memory.NewDeadLetterRepo(store), nil)
	q.jitter = func(time.Duration) time.Duration { return 0 }

	q.recover(context.Background())

	if lockHeld {
		t.Error("table lock held across the recovery store write")
	}
	row, ok := store.Get(stale.ID)
	if !ok || row.Status != domain.JobPending {
		t.Fatalf("stale row not persisted as pending: %+v", row)
	}
}

func TestConcurrencyBudgetIsNeverExceeded(t *testing.T) {
	q, _ := newTestQueue(t, Config{Concurrency: 5, BaseDelay: time.Millisecond})

	var cur, max, total int64
	gate := make(chan struct{})
	var once sync.Once

	_ = q.Register("bulk.import", func(ctx context.Context, job *domain.Job) error {
		n := atomic.AddInt64(&cur, 1)
		for {
			old := atomic.LoadInt64(&max)
			if n <= old || atomic.CompareAndSwapInt64(&max, old, n) {
				break
			}
		}
		<-gate
		atomic.AddInt64(&cur, -1)
		atomic.AddInt64(&total, 1)
		return nil
	})

	for i := 0; i < 20; i++ {
		_, _ = q.Add(context.Background(), "bulk.import", nil, nil)
	}

	// First tick dispatches exactly the budget and no more, even across
	// repeated ticks while the workers are blocked.
	q.runCycle(context.Background())
	q.runCycle(context.Background())

	waitFor(t, func() bool { return atomic.LoadInt64(&cur) == 5 })
	q.mu.Lock()
	inflight := q.inflight
	q.mu.Unlock()
	if inflight != 5 {
		t.Fatalf("inflight = %d, want 5", inflight)
	}

	once.Do(func() { close(gate) })
	q.wg.Wait()

	for atomic.LoadInt64(&total) < 20 {
		q.runCycle(context.Background())
		q.wg.Wait()
	}

	if got := atomic.LoadInt64(&max); got > 5 {
		t.Errorf("max concurrent = %d, want <= 5", got)
	}
	if got := atomic.LoadInt64(&total); got != 20 {
		t.Errorf("processed = %d, want 20", got)
	}
}

func TestClaimEligibleIsFIFO(t *testing.T) {
	q, _ := newTestQueue(t, Config{Concurrency: 2})

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]string, 3)
	for i := 0; i < 3; i++ {
		job := domain.NewJob("order.created", nil, nil, 3)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		ids[i] = job.ID
		q.table[job.ID] = job
	}

	claimed := q.claimEligible(base.Add(time.Hour))
	if len(claimed) != 2 {
		t.Fatalf("claimed %d jobs, want 2 (budget)", len(claimed))
	}
	if claimed[0].ID != ids[0] || claimed[1].ID != ids[1] {
		t.Error("claims are not oldest-first")
	}
	for _, job := range claimed {
		if !q.claims[job.ID] {
			t.Errorf("job %s not marked claimed", job.ID)
		}
	}
}

func TestClaimEligibleSkipsFutureAndClaimedJobs(t *testing.T) {
	q, _ := newTestQueue(t, Config{Concurrency: 10})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	due := domain.NewJob("a", nil, nil, 3)
	due.CreatedAt = now.Add(-time.Minute)

	future := domain.NewJob("b", nil, nil, 3)
	future.CreatedAt = now.Add(-time.Minute)
	future.NextAttemptAt = now.Add(time.Hour)

	held := domain.NewJob("c", nil, nil, 3)
	held.CreatedAt = now.Add(-time.Minute)

	q.table[due.ID] = due
	q.table[future.ID] = future
	q.table[held.ID] = held
	q.claims[held.ID] = true

	claimed := q.claimEligible(now)
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("claimed = %v, want only the due unclaimed job", claimed)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q, _ := newTestQueue(t, Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
