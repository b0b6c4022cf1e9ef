package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/ReadySet1/destino-sf-sub005/internal/control"
	"github.com/ReadySet1/destino-sf-sub005/internal/core/config"
	"github.com/ReadySet1/destino-sf-sub005/internal/core/domain"
	"github.com/ReadySet1/destino-sf-sub005/internal/queue"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "destinod",
	Short: "Destino resilience service",
	Long:  `destinod runs the webhook ingestion queue, circuit breaker surface, and operational API for the Destino storefront's external dependencies.`,
	Run:   runService,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func runService(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	// Webhook handlers for the configured kinds. Business-entity side
	// effects live in the embedding application; the daemon validates and
	// acknowledges so delivery, retry, and dead-lettering are exercised.
	processors := make(map[string]queue.Processor, len(cfg.Webhook.Kinds))
	for _, kind := range cfg.Webhook.Kinds {
		processors[kind] = receiptProcessor(kind)
	}

	// The charge surface is consumed as a library by the checkout flow;
	// the daemon runs without a payment gateway bound.
	app, err := control.NewApp(cfg, nil, processors)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start service", "error", err)
		os.Exit(1)
	}

	slog.Info("Service started", "config", cfgPath, "port", cfg.Server.Port)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}

// receiptProcessor acknowledges a webhook after checking the payload is
// well-formed. A malformed payload is a permanent failure so it
// dead-letters on the first attempt instead of burning retries.
func receiptProcessor(kind string) queue.Processor {
	return func(ctx context.Context, job *domain.Job) error {
		if !json.Valid(job.Payload) {
			return fmt.Errorf("malformed %s payload", kind)
		}
		slog.Info("webhook processed", "kind", kind, "job_id", job.ID, "event_id", job.Headers["X-Event-Id"])
		return nil
	}
}
