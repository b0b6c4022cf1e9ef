package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/telemetry"
)

const defaultDedupeTTL = 24 * time.Hour

// Deduper records webhook event ids with a first-writer-wins lock so a
// redelivered event is enqueued at most once within the TTL window. A nil
// Deduper, or one backed by a nil client, accepts every event; losing Redis
// downgrades to at-least-once delivery rather than blocking ingestion.
type Deduper struct {
	client   *Client
	ttl      time.Duration
	recorder telemetry.Recorder
	log      *slog.Logger
}

func NewDeduper(client *Client, ttl time.Duration, recorder telemetry.Recorder) *Deduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &Deduper{
		client:   client,
		ttl:      ttl,
		recorder: recorder,
		log:      slog.Default().With("component", "dedupe"),
	}
}

func dedupeKey(eventID string) string {
	return fmt.Sprintf("webhook:dedupe:%s", eventID)
}

// Seen marks the event id and reports whether it was already recorded.
// Errors are logged and treated as unseen so delivery stays at-least-once.
func (d *Deduper) Seen(ctx context.Context, eventID string) bool {
	if d == nil || d.client == nil || eventID == "" {
		return false
	}

	fresh, err := d.client.SetNX(ctx, dedupeKey(eventID), "1", d.ttl)
	if err != nil {
		d.log.Warn("dedupe check failed, accepting event", "event_id", eventID, "error", err)
		return false
	}
	result := "miss"
	if !fresh {
		result = "hit"
	}
	d.recorder.Record(telemetry.EventDedupe, 0, map[string]string{"result": result})
	return !fresh
}
