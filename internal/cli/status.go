package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ReadySet1/destino-sf-sub005/internal/core/config"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of the webhook job queue",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	rows, err := db.QueryContext(ctx, "SELECT kind, status, count(*) FROM webhook_jobs GROUP BY kind, status ORDER BY kind, status")
	if err != nil {
		slog.Error("Failed to query jobs", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "KIND\tSTATUS\tCOUNT")

	for rows.Next() {
		var kind, status string
		var count int64
		if err := rows.Scan(&kind, &status, &count); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", kind, status, count)
	}
	_ = w.Flush()

	var deadCount int64
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM webhook_dead_letters WHERE retried_at IS NULL").Scan(&deadCount); err == nil {
		fmt.Printf("\nDead letters awaiting retry: %d\n", deadCount)
	}
}
