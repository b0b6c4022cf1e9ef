// Package memory provides map-backed stores for tests and for deployments
// that explicitly opt out of durable persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	jobs        map[string]*domain.Job
	deadLetters map[string]*domain.DeadLetter
	retried     map[string]bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:        make(map[string]*domain.Job),
		deadLetters: make(map[string]*domain.DeadLetter),
		retried:     make(map[string]bool),
	}
}

// Get returns a stored job, for tests.
func (s *MemoryStorage) Get(jobID string) (*domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// JobRepo implements storage.JobStore in memory.
type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) CreateJob(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *job
	r.store.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepo) UpdateJob(ctx context.Context, id string, update storage.JobUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	job, ok := r.store.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Attempts != nil {
		job.Attempts = *update.Attempts
	}
	if update.NextAttemptAt != nil {
		job.NextAttemptAt = *update.NextAttemptAt
	}
	if update.LastError != nil {
		job.LastError = *update.LastError
	}
	return nil
}

func (r *JobRepo) DeleteJob(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.jobs, id)
	return nil
}

func (r *JobRepo) LoadJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*domain.Job
	for _, job := range r.store.jobs {
		if want[job.Status] {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeadLetterRepo implements storage.DeadLetterStore in memory.
type DeadLetterRepo struct {
	store *MemoryStorage
}

func NewDeadLetterRepo(store *MemoryStorage) *DeadLetterRepo {
	return &DeadLetterRepo{store: store}
}

func (r *DeadLetterRepo) Record(ctx context.Context, dl *domain.DeadLetter) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *dl
	r.store.deadLetters[dl.JobID] = &cp
	// A job can be retried and exhaust its attempts again; the fresh
	// record supersedes the retried marker.
	delete(r.store.retried, dl.JobID)
	return nil
}

func (r *DeadLetterRepo) MarkRetried(ctx context.Context, jobID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.deadLetters[jobID]; !ok {
		return storage.ErrJobNotFound
	}
	r.store.retried[jobID] = true
	return nil
}

func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for id := range r.store.deadLetters {
		if !r.store.retried[id] {
			count++
		}
	}
	return count, nil
}

// Get returns a recorded dead letter, for tests.
func (r *DeadLetterRepo) Get(jobID string) *domain.DeadLetter {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.deadLetters[jobID]
}
