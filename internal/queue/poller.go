package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
	"github.com/ReadySet1/destino-sf-sub005/internal/telemetry"
)

// Run drives the poller loop until ctx is canceled. Stopping the loop only
// stops new dispatch ticks; jobs already dispatched keep their goroutines,
// and their state was persisted before any side-effecting work began.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("queue poller started",
		"poll_interval", q.cfg.PollInterval,
		"concurrency", q.cfg.Concurrency,
	)

	q.runCycle(ctx)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.log.Info("queue poller stopped")
			return
		case <-ticker.C:
			q.runCycle(ctx)
		}
	}
}

// Drain blocks until all in-flight workers finish or ctx expires.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle is one poll tick: recover untracked rows, then dispatch
// eligible jobs up to the concurrency budget.
func (q *Queue) runCycle(ctx context.Context) {
	q.recover(ctx)

	now := q.now()
	for _, job := range q.claimEligible(now) {
		q.markProcessing(ctx, job)
		q.wg.Add(1)
		go q.process(ctx, job)
	}
}

// recover reloads PENDING and PROCESSING rows the in-memory table doesn't
// know about. Rows stuck in PROCESSING belong to a previous process that
// crashed mid-job; they are re-admitted as PENDING (at-least-once, never
// exactly-once).
func (q *Queue) recover(ctx context.Context) {
	rows, err := q.jobs.LoadJobsByStatus(ctx, domain.JobPending, domain.JobProcessing)
	if err != nil {
		q.degraded("load", "", err)
		return
	}

	var stale []string

	q.mu.Lock()
	for _, row := range rows {
		if _, tracked := q.table[row.ID]; tracked {
			continue
		}
		if row.Status == domain.JobProcessing {
			q.log.Warn("re-admitting stale processing job", "id", row.ID, "kind", row.Kind)
			row.Status = domain.JobPending
			stale = append(stale, row.ID)
		}
		q.table[row.ID] = row
	}
	q.mu.Unlock()

	// Persist the PENDING transitions without holding the lock so a large
	// recovery batch cannot stall claiming and dispatch.
	status := domain.JobPending
	for _, id := range stale {
		if err := q.jobs.UpdateJob(ctx, id, storage.JobUpdate{Status: &status}); err != nil {
			q.degraded("update", id, err)
		}
	}
}

// claimEligible selects up to budget - inflight PENDING jobs due at now,
// oldest first, and marks them claimed. The claim set guarantees a job is
// never handed to two workers.
func (q *Queue) claimEligible(now time.Time) []*domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	budget := q.cfg.Concurrency - q.inflight
	if budget <= 0 {
		return nil
	}

	var eligible []*domain.Job
	for _, job := range q.table {
		if job.Eligible(now) && !q.claims[job.ID] {
			eligible = append(eligible, job)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > budget {
		eligible = eligible[:budget]
	}

	for _, job := range eligible {
		q.claims[job.ID] = true
		q.inflight++
	}
	return eligible
}

// markProcessing persists the PROCESSING transition before the processor
// is invoked, so a crash mid-job is visible to recovery.
func (q *Queue) markProcessing(ctx context.Context, job *domain.Job) {
	q.mu.Lock()
	job.Status = domain.JobProcessing
	q.mu.Unlock()

	status := domain.JobProcessing
	if err := q.jobs.UpdateJob(ctx, job.ID, storage.JobUpdate{Status: &status}); err != nil {
		q.degraded("update", job.ID, err)
	}
}

func (q *Queue) process(ctx context.Context, job *domain.Job) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		delete(q.claims, job.ID)
		q.inflight--
		q.mu.Unlock()
	}()

	q.mu.Lock()
	proc, registered := q.processors[job.Kind]
	q.mu.Unlock()

	if !registered {
		// Configuration error: no retry is consumed, the job goes
		// straight to the dead letter store for inspection.
		q.deadLetter(ctx, job, fmt.Sprintf("no processor registered for kind %q", job.Kind))
		return
	}

	start := q.now()
	err := q.invoke(ctx, proc, job)
	elapsed := q.now().Sub(start)

	if err == nil {
		q.complete(ctx, job, elapsed)
		return
	}
	q.fail(ctx, job, err, elapsed)
}

// invoke shields the queue from panicking processors.
func (q *Queue) invoke(ctx context.Context, proc Processor, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return proc(ctx, job)
}

func (q *Queue) complete(ctx context.Context, job *domain.Job, elapsed time.Duration) {
	q.mu.Lock()
	job.Status = domain.JobCompleted
	delete(q.table, job.ID)
	q.mu.Unlock()

	if err := q.jobs.DeleteJob(ctx, job.ID); err != nil {
		q.degraded("delete", job.ID, err)
	}

	q.recorder.Record(telemetry.EventJobCompleted, elapsed, map[string]string{"kind": job.Kind})
	q.log.Info("job completed", "id", job.ID, "kind", job.Kind, "attempts", job.Attempts+1)
}

func (q *Queue) fail(ctx context.Context, job *domain.Job, procErr error, elapsed time.Duration) {
	opErr := resilience.Classify(procErr)

	q.mu.Lock()
	job.Attempts++
	job.LastError = opErr.Error()
	exhausted := job.Attempts >= job.MaxAttempts || !opErr.Retryable
	q.mu.Unlock()

	if exhausted {
		q.deadLetter(ctx, job, opErr.Error())
		return
	}

	delay := q.backoff(job.Attempts-1, opErr.RetryAfter)
	next := q.now().Add(delay)

	q.mu.Lock()
	job.Status = domain.JobPending
	job.NextAttemptAt = next
	q.mu.Unlock()

	status := domain.JobPending
	attempts := job.Attempts
	lastErr := job.LastError
	if err := q.jobs.UpdateJob(ctx, job.ID, storage.JobUpdate{
		Status:        &status,
		Attempts:      &attempts,
		NextAttemptAt: &next,
		LastError:     &lastErr,
	}); err != nil {
		q.degraded("update", job.ID, err)
	}

	q.recorder.Record(telemetry.EventJobRetried, elapsed, map[string]string{"kind": job.Kind})
	q.log.Warn("job failed, scheduled for retry",
		"id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempts,
		"next_attempt_in", delay,
		"error", opErr.Code,
	)
}

// deadLetter routes an exhausted job to the audit store and removes it
// from the active queue. Dead-lettered jobs are never auto-retried.
func (q *Queue) deadLetter(ctx context.Context, job *domain.Job, finalErr string) {
	now := q.now()

	q.mu.Lock()
	job.Status = domain.JobDeadLetter
	job.LastError = finalErr
	delete(q.table, job.ID)
	q.deadTotal++
	q.mu.Unlock()

	status := domain.JobDeadLetter
	attempts := job.Attempts
	if err := q.jobs.UpdateJob(ctx, job.ID, storage.JobUpdate{
		Status:    &status,
		Attempts:  &attempts,
		LastError: &finalErr,
	}); err != nil {
		q.degraded("update", job.ID, err)
	}
	if err := q.dead.Record(ctx, &domain.DeadLetter{
		JobID:      job.ID,
		Kind:       job.Kind,
		Payload:    job.Payload,
		Headers:    job.Headers,
		Attempts:   job.Attempts,
		FinalError: finalErr,
		CreatedAt:  job.CreatedAt,
		FailedAt:   now,
	}); err != nil {
		q.degraded("record dead letter", job.ID, err)
	}

	q.recorder.Record(telemetry.EventJobDeadLetter, 0, map[string]string{"kind": job.Kind})
	q.log.Error("job dead-lettered",
		"id", job.ID,
		"kind", job.Kind,
		"attempts", job.Attempts,
		"error", finalErr,
	)
}
