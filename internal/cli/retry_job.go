package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/config"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage/postgres"
)

var retryJobCmd = &cobra.Command{
	Use:   "retry-job [job_id]",
	Short: "Re-submit a dead-lettered webhook job for processing",
	Args:  cobra.ExactArgs(1),
	Run:   runRetryJob,
}

func init() {
	rootCmd.AddCommand(retryJobCmd)
}

func runRetryJob(cmd *cobra.Command, args []string) {
	jobID := args[0]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	// Direct SQL keeps the CLI independent of a running poller; the
	// service picks the row up on its next recovery pass.
	res, err := db.ExecContext(ctx,
		"UPDATE webhook_jobs SET status = 'pending', attempts = 0, next_attempt_at = now(), last_error = '' WHERE id = $1 AND status = 'dead_letter'",
		jobID)
	if err != nil {
		slog.Error("Failed to reset job", "error", err)
		os.Exit(1)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		fmt.Printf("No dead-lettered job with id %s\n", jobID)
		os.Exit(1)
	}

	if _, err := db.ExecContext(ctx,
		"UPDATE webhook_dead_letters SET retried_at = now() WHERE job_id = $1 AND retried_at IS NULL",
		jobID); err != nil {
		slog.Warn("Failed to mark dead letter retried", "error", err)
	}

	fmt.Printf("Successfully re-submitted job %s\n", jobID)
}
