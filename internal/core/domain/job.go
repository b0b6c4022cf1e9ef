package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a webhook job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobDeadLetter JobStatus = "dead_letter"
)

// Job is one inbound webhook awaiting processing. The persisted row is the
// source of truth across restarts; PROCESSING is transient and is
// reclassified as PENDING on recovery so delivery is at-least-once.
type Job struct {
	ID            string
	Kind          string
	Payload       []byte
	Headers       map[string]string
	Attempts      int
	MaxAttempts   int
	Status        JobStatus
	NextAttemptAt time.Time // zero = eligible immediately
	LastError     string
	CreatedAt     time.Time
}

// NewJob builds a pending job for an inbound webhook. The queue never
// inspects the payload; the processor registered for kind owns its schema.
func NewJob(kind string, payload []byte, headers map[string]string, maxAttempts int) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Headers:     headers,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Status:      JobPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// Eligible reports whether the job may be dispatched at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == JobPending && !j.NextAttemptAt.After(now)
}

// DeadLetter is the durable audit record for a job that exhausted its
// retries. Immutable once written; cleared only by manual re-submission.
type DeadLetter struct {
	JobID      string
	Kind       string
	Payload    []byte
	Headers    map[string]string
	Attempts   int
	FinalError string
	CreatedAt  time.Time // original job creation
	FailedAt   time.Time
}
