package resilience

import (
	"fmt"
	"time"
)

// Category groups failures by what caused them.
type Category string

const (
	CategoryNetwork      Category = "NETWORK"
	CategoryTimeout      Category = "TIMEOUT"
	CategoryRateLimit    Category = "RATE_LIMIT"
	CategoryAuth         Category = "AUTH"
	CategoryValidation   Category = "VALIDATION"
	CategoryRemoteServer Category = "REMOTE_SERVER"
	CategoryCircuitOpen  Category = "CIRCUIT_BREAKER_OPEN"
	CategoryUnknown      Category = "UNKNOWN"
)

// OperationError is the classified form of a failed attempt. It is built
// once by Classify and carries the retry verdict for the whole pipeline;
// nothing downstream overrides Retryable.
type OperationError struct {
	Code       string
	Category   Category
	Detail     string
	Retryable  bool
	RetryAfter time.Duration // backoff hint, 0 = none
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Category, e.Detail)
}

// RemoteError is a structured failure returned by an external API such as
// the payment gateway. Callers at the transport boundary construct it so
// the classifier can work from the error code rather than message text.
type RemoteError struct {
	Status int    // HTTP status, 0 if not applicable
	Code   string // remote error code, e.g. "CARD_DECLINED"
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote error %s (http %d): %s", e.Code, e.Status, e.Detail)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Detail)
}
