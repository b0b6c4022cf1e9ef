package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// maxIdempotencyKeyLen matches Square's 45-character idempotency key limit.
const maxIdempotencyKeyLen = 45

// IdempotencyKey derives a deterministic key for one charge attempt. The
// same order and attempt always hash to the same key so a network-level
// retry of the identical request deduplicates remotely, while a new attempt
// index yields a fresh key. The process start time anchors keys to one run
// so a restarted process never replays a stale cache entry.
func IdempotencyKey(orderRef string, attempt int, processStart time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", orderRef, attempt, processStart.UnixNano())))
	key := hex.EncodeToString(sum[:])
	if len(key) > maxIdempotencyKeyLen {
		key = key[:maxIdempotencyKeyLen]
	}
	return key
}
