package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
)

// DeadLetterRepo implements storage.DeadLetterStore using PostgreSQL.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new PostgreSQL dead letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

// Record writes the audit row for an exhausted job. A job that was retried
// and exhausted its attempts again overwrites its previous row, clearing the
// retried marker so Count sees it.
func (r *DeadLetterRepo) Record(ctx context.Context, dl *domain.DeadLetter) error {
	headers, err := json.Marshal(dl.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter headers: %w", err)
	}

	query := `
		INSERT INTO webhook_dead_letters (job_id, kind, payload, headers, attempts, final_error, job_created_at, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			headers = EXCLUDED.headers,
			attempts = EXCLUDED.attempts,
			final_error = EXCLUDED.final_error,
			job_created_at = EXCLUDED.job_created_at,
			failed_at = EXCLUDED.failed_at,
			retried_at = NULL
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		dl.JobID,
		dl.Kind,
		dl.Payload,
		headers,
		dl.Attempts,
		dl.FinalError,
		dl.CreatedAt,
		dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}

// MarkRetried flags a dead letter as manually re-submitted.
func (r *DeadLetterRepo) MarkRetried(ctx context.Context, jobID string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE webhook_dead_letters SET retried_at = NOW() WHERE job_id = $1 AND retried_at IS NULL",
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark dead letter retried: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// Count returns the number of dead letters not yet re-submitted.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(
		ctx,
		&count,
		"SELECT COUNT(*) FROM webhook_dead_letters WHERE retried_at IS NULL",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}
