package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ReadySet1/destino-sf-sub005/internal/alert"
	"github.com/ReadySet1/destino-sf-sub005/internal/core/config"
	redisclient "github.com/ReadySet1/destino-sf-sub005/internal/infra/redis"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage/memory"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage/postgres"
	"github.com/ReadySet1/destino-sf-sub005/internal/ops"
	"github.com/ReadySet1/destino-sf-sub005/internal/payment"
	"github.com/ReadySet1/destino-sf-sub005/internal/queue"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
	"github.com/ReadySet1/destino-sf-sub005/internal/telemetry"
)

// App is the main application struct that manages the component lifecycle.
type App struct {
	cfg       *config.AppConfig
	db        *postgres.DB
	redis     *redisclient.Client
	breaker   *resilience.CircuitBreaker
	executor  *resilience.Executor
	payments  *payment.Processor
	queue     *queue.Queue
	watcher   *alert.CircuitWatcher
	opsServer *ops.Server
	log       *slog.Logger

	cancel context.CancelFunc
}

// NewApp creates an App with all dependencies initialized. charger is the
// payment gateway boundary; processors maps webhook kinds to their
// handlers and is registered before the poller ever dispatches.
func NewApp(cfg *config.AppConfig, charger payment.Charger, processors map[string]queue.Processor) (*App, error) {
	recorder := telemetry.NewPrometheus()

	// 1. Storage. An empty database URL is an explicit opt-in to
	// in-memory-only operation; a configured but unreachable database is a
	// startup failure.
	var jobs storage.JobStore
	var dead storage.DeadLetterStore
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = connectDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		jobs = postgres.NewJobRepo(db)
		dead = postgres.NewDeadLetterRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		jobs = memory.NewJobRepo(store)
		dead = memory.NewDeadLetterRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Redis dedupe. Losing Redis only downgrades webhook delivery to
	// at-least-once, so client failure is a warning, not a startup error.
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, dedupe disabled", "error", err)
			redisClient = nil
		}
	}
	deduper := redisclient.NewDeduper(redisClient, cfg.Webhook.DedupeTTL, recorder)

	// 3. Resilience core.
	breaker := resilience.NewCircuitBreaker(cfg.Breaker)
	breaker.OnTransition(func(key string, from, to resilience.CircuitState) {
		recorder.Record(telemetry.EventCircuitTransition, 0, map[string]string{
			"key":  key,
			"from": string(from),
			"to":   string(to),
		})
	})
	executor := resilience.NewExecutor(cfg.Executor, breaker, recorder)

	// 4. Payment processor and alerting. A nil charger leaves the charge
	// surface unbound, which is how the standalone daemon runs.
	notifier := alert.NewLogNotifier()
	var payments *payment.Processor
	if charger != nil {
		payments = payment.NewProcessor(cfg.Payment, executor, charger, notifier)
	}
	watcher := alert.NewCircuitWatcher(cfg.Alert, breaker, notifier)

	// 5. Job queue.
	q := queue.New(cfg.Queue, jobs, dead, recorder)
	for kind, p := range processors {
		if err := q.Register(kind, p); err != nil {
			return nil, err
		}
	}

	// 6. Ops surface.
	checks := map[string]ops.HealthChecker{}
	if db != nil {
		checks["database"] = db.Health
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	opsServer := ops.NewServer(cfg.Server.Port, breaker, q, deduper, checks)

	return &App{
		cfg:       cfg,
		db:        db,
		redis:     redisClient,
		breaker:   breaker,
		executor:  executor,
		payments:  payments,
		queue:     q,
		watcher:   watcher,
		opsServer: opsServer,
		log:       slog.Default(),
	}, nil
}

func connectDB(ctx context.Context, cfg postgres.Config) (*postgres.DB, error) {
	var db *postgres.DB
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		db, err = postgres.NewDB(ctx, cfg)
		if err != nil {
			slog.Warn("Database not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	return db, err
}

// Payments exposes the resilient charge operation for the checkout flow.
func (a *App) Payments() *payment.Processor { return a.payments }

// Queue exposes the webhook queue for direct enqueue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Start starts all background components.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		if err := a.opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Ops server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go a.queue.Run(ctx)
	go a.watcher.Run(ctx)

	return nil
}

// Stop shuts the app down: stop claiming new jobs, wait for in-flight
// workers, then release connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.queue.Drain(ctx); err != nil {
		a.log.Warn("Queue drain timed out", "error", err)
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	return a.opsServer.Stop(ctx)
}
