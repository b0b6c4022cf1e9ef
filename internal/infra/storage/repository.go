package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job doesn't exist
	ErrJobNotFound = errors.New("job not found")
)

// JobUpdate is a partial update applied to a persisted job row. Nil fields
// are left untouched.
type JobUpdate struct {
	Status        *domain.JobStatus
	Attempts      *int
	NextAttemptAt *time.Time
	LastError     *string
}

// JobStore persists webhook jobs. The persisted row is the source of truth
// across restarts; the queue mirrors it in memory.
type JobStore interface {
	// CreateJob inserts a new job row.
	CreateJob(ctx context.Context, job *domain.Job) error

	// UpdateJob applies a partial update to a job row.
	UpdateJob(ctx context.Context, id string, update JobUpdate) error

	// DeleteJob removes a job row (terminal COMPLETED state).
	DeleteJob(ctx context.Context, id string) error

	// LoadJobsByStatus returns all jobs in any of the given statuses,
	// oldest first.
	LoadJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)
}

// DeadLetterStore keeps exhausted jobs for manual inspection.
type DeadLetterStore interface {
	// Record writes the audit row for an exhausted job.
	Record(ctx context.Context, dl *domain.DeadLetter) error

	// MarkRetried flags a dead letter as manually re-submitted.
	MarkRetried(ctx context.Context, jobID string) error

	// Count returns the number of dead letters not yet re-submitted.
	Count(ctx context.Context) (int, error)
}
