// Package queue implements the durable, concurrency-bounded job queue for
// inbound webhook processing. Jobs live in an in-memory table mirrored to
// persistent storage; the persisted row is the source of truth across
// restarts.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
	"github.com/ReadySet1/destino-sf-sub005/internal/telemetry"
)

// Processor handles jobs of one registered kind. The queue never inspects
// the payload; each processor owns its own schema.
type Processor func(ctx context.Context, job *domain.Job) error

// Config tunes the queue and its poller.
type Config struct {
	Concurrency  int           `yaml:"concurrency"`   // max jobs in PROCESSING at once
	PollInterval time.Duration `yaml:"poll_interval"` // poller tick
	MaxAttempts  int           `yaml:"max_attempts"`  // per-job default
	BaseDelay    time.Duration `yaml:"base_delay"`
	CapDelay     time.Duration `yaml:"cap_delay"`
	JitterMax    time.Duration `yaml:"jitter_max"`
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:  5,
		PollInterval: 5 * time.Second,
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		CapDelay:     30 * time.Second,
		JitterMax:    500 * time.Millisecond,
	}
}

// Stats is the queue's operational snapshot.
type Stats struct {
	Pending           int `json:"pending"`
	Processing        int `json:"processing"`
	DeadLetter        int `json:"dead_letter"`
	ConcurrencyBudget int `json:"concurrency_budget"`
}

// Queue owns the in-memory job table, the worker claim set, and the
// registered processors. All mutation goes through the poller and its
// workers; the ingestion boundary only calls Add.
type Queue struct {
	cfg      Config
	jobs     storage.JobStore
	dead     storage.DeadLetterStore
	recorder telemetry.Recorder
	log      *slog.Logger

	// swapped out in tests for determinism
	now    func() time.Time
	jitter func(max time.Duration) time.Duration

	mu         sync.Mutex
	table      map[string]*domain.Job
	claims     map[string]bool
	inflight   int
	deadTotal  int
	processors map[string]Processor

	wg sync.WaitGroup
}

// New creates a queue backed by the given stores. Zero config fields fall
// back to defaults.
func New(cfg Config, jobs storage.JobStore, dead storage.DeadLetterStore, recorder telemetry.Recorder) *Queue {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.CapDelay <= 0 {
		cfg.CapDelay = def.CapDelay
	}
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &Queue{
		cfg:      cfg,
		jobs:     jobs,
		dead:     dead,
		recorder: recorder,
		log:      slog.Default().With("component", "webhook-queue"),
		now:      func() time.Time { return time.Now().UTC() },
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		},
		table:      make(map[string]*domain.Job),
		claims:     make(map[string]bool),
		processors: make(map[string]Processor),
	}
}

// Register binds a processor to a job kind. Registering two processors for
// the same kind is a configuration error raised at startup, not at
// dispatch time.
func (q *Queue) Register(kind string, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.processors[kind]; exists {
		return fmt.Errorf("processor already registered for kind %q", kind)
	}
	q.processors[kind] = p
	return nil
}

// Add enqueues an inbound webhook job. Persistence is best-effort: if the
// store is unreachable the queue keeps operating in memory and logs the
// degraded mode rather than rejecting ingestion.
func (q *Queue) Add(ctx context.Context, kind string, payload []byte, headers map[string]string) (*domain.Job, error) {
	job := domain.NewJob(kind, payload, headers, q.cfg.MaxAttempts)

	if err := q.jobs.CreateJob(ctx, job); err != nil {
		q.degraded("create", job.ID, err)
	}

	q.mu.Lock()
	q.table[job.ID] = job
	q.mu.Unlock()

	q.log.Debug("job added", "id", job.ID, "kind", kind)
	return job, nil
}

// Retry manually re-submits a dead-lettered job: status back to PENDING,
// eligible immediately, with a fresh attempt budget. Returns false when no
// dead-lettered job with that id exists.
func (q *Queue) Retry(ctx context.Context, id string) bool {
	deadJobs, err := q.jobs.LoadJobsByStatus(ctx, domain.JobDeadLetter)
	if err != nil {
		q.degraded("load dead letters", id, err)
		return false
	}

	var job *domain.Job
	for _, j := range deadJobs {
		if j.ID == id {
			job = j
			break
		}
	}
	if job == nil {
		return false
	}

	job.Status = domain.JobPending
	job.Attempts = 0
	job.NextAttemptAt = q.now()

	status := domain.JobPending
	attempts := 0
	next := job.NextAttemptAt
	if err := q.jobs.UpdateJob(ctx, id, storage.JobUpdate{
		Status:        &status,
		Attempts:      &attempts,
		NextAttemptAt: &next,
	}); err != nil {
		q.degraded("update", id, err)
	}
	if err := q.dead.MarkRetried(ctx, id); err != nil && err != storage.ErrJobNotFound {
		q.degraded("mark retried", id, err)
	}

	q.mu.Lock()
	q.table[id] = job
	if q.deadTotal > 0 {
		q.deadTotal--
	}
	q.mu.Unlock()

	q.log.Info("dead-lettered job re-submitted", "id", id, "kind", job.Kind)
	return true
}

// Stats returns the queue's operational snapshot.
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	pending := 0
	for _, job := range q.table {
		if job.Status == domain.JobPending {
			pending++
		}
	}
	s := Stats{
		Pending:           pending,
		Processing:        q.inflight,
		DeadLetter:        q.deadTotal,
		ConcurrencyBudget: q.cfg.Concurrency,
	}
	q.mu.Unlock()

	if count, err := q.dead.Count(ctx); err == nil {
		s.DeadLetter = count
	}
	return s
}

func (q *Queue) backoff(attempt int, hint time.Duration) time.Duration {
	return resilience.BackoffDelay(attempt, q.cfg.BaseDelay, q.cfg.CapDelay, hint) + q.jitter(q.cfg.JitterMax)
}

// degraded logs a persistence failure without failing the operation.
// Durability is best-effort, not a hard dependency for liveness.
func (q *Queue) degraded(op, jobID string, err error) {
	q.log.Warn("persistence unavailable, continuing in memory",
		"op", op,
		"job_id", jobID,
		"error", err,
	)
	q.recorder.Record(telemetry.EventStorageDegraded, 0, nil)
}
