package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
)

// JobRepo implements storage.JobStore using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	ID            string         `db:"id"`
	Kind          string         `db:"kind"`
	Payload       []byte         `db:"payload"`
	Headers       []byte         `db:"headers"`
	Attempts      int            `db:"attempts"`
	MaxAttempts   int            `db:"max_attempts"`
	Status        string         `db:"status"`
	NextAttemptAt sql.NullTime   `db:"next_attempt_at"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r jobRow) toDomain() (*domain.Job, error) {
	var headers map[string]string
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &headers); err != nil {
			return nil, fmt.Errorf("failed to decode job headers: %w", err)
		}
	}

	job := &domain.Job{
		ID:          r.ID,
		Kind:        r.Kind,
		Payload:     r.Payload,
		Headers:     headers,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Status:      domain.JobStatus(r.Status),
		LastError:   r.LastError.String,
		CreatedAt:   r.CreatedAt,
	}
	if r.NextAttemptAt.Valid {
		job.NextAttemptAt = r.NextAttemptAt.Time
	}
	return job, nil
}

// CreateJob inserts a new job row.
func (r *JobRepo) CreateJob(ctx context.Context, job *domain.Job) error {
	headers, err := json.Marshal(job.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode job headers: %w", err)
	}

	query := `
		INSERT INTO webhook_jobs (id, kind, payload, headers, attempts, max_attempts, status, next_attempt_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Kind,
		job.Payload,
		headers,
		job.Attempts,
		job.MaxAttempts,
		string(job.Status),
		nullableTime(job.NextAttemptAt),
		job.LastError,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob applies a partial update to a job row.
func (r *JobRepo) UpdateJob(ctx context.Context, id string, update storage.JobUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if update.Status != nil {
		args = append(args, string(*update.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if update.Attempts != nil {
		args = append(args, *update.Attempts)
		sets = append(sets, fmt.Sprintf("attempts = $%d", len(args)))
	}
	if update.NextAttemptAt != nil {
		args = append(args, nullableTime(*update.NextAttemptAt))
		sets = append(sets, fmt.Sprintf("next_attempt_at = $%d", len(args)))
	}
	if update.LastError != nil {
		args = append(args, *update.LastError)
		sets = append(sets, fmt.Sprintf("last_error = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE webhook_jobs SET %s WHERE id = $%d",
		strings.Join(sets, ", "),
		len(args),
	)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job row.
func (r *JobRepo) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM webhook_jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// LoadJobsByStatus returns all jobs in any of the given statuses, oldest first.
func (r *JobRepo) LoadJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(s)
	}

	query := fmt.Sprintf(`
		SELECT id, kind, payload, headers, attempts, max_attempts, status, next_attempt_at, last_error, created_at
		FROM webhook_jobs
		WHERE status IN (%s)
		ORDER BY created_at ASC
	`, strings.Join(placeholders, ", "))

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
