package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Backoff hints per failure class.
const (
	timeoutHint     = 2 * time.Second
	networkHint     = 1 * time.Second
	rateLimitHint   = 5 * time.Second
	unavailableHint = 10 * time.Second
	serverErrorHint = 1 * time.Second
)

// Remote codes that must never be retried. Card declines and auth failures
// would charge the customer again or trip fraud checks if replayed.
var nonRetryableCodes = map[string]Category{
	"BAD_REQUEST":                  CategoryValidation,
	"INVALID_REQUEST_ERROR":        CategoryValidation,
	"NOT_FOUND":                    CategoryValidation,
	"UNAUTHORIZED":                 CategoryAuth,
	"FORBIDDEN":                    CategoryAuth,
	"AUTHENTICATION_ERROR":         CategoryAuth,
	"CARD_DECLINED":                CategoryValidation,
	"GENERIC_DECLINE":              CategoryValidation,
	"CVV_FAILURE":                  CategoryValidation,
	"ADDRESS_VERIFICATION_FAILURE": CategoryValidation,
	"INVALID_EXPIRATION":           CategoryValidation,
	"EXPIRED_CARD":                 CategoryValidation,
	"INSUFFICIENT_FUNDS":           CategoryValidation,
	"TRANSACTION_LIMIT":            CategoryValidation,
}

// Remote codes that are safe to retry, with their backoff hints.
var transientCodes = map[string]struct {
	category Category
	hint     time.Duration
}{
	"RATE_LIMITED":          {CategoryRateLimit, rateLimitHint},
	"RATE_LIMIT_EXCEEDED":   {CategoryRateLimit, rateLimitHint},
	"SERVICE_UNAVAILABLE":   {CategoryRemoteServer, unavailableHint},
	"INTERNAL_SERVER_ERROR": {CategoryRemoteServer, serverErrorHint},
	"BAD_GATEWAY":           {CategoryRemoteServer, serverErrorHint},
	"GATEWAY_TIMEOUT":       {CategoryRemoteServer, serverErrorHint},
	"REQUEST_TIMEOUT":       {CategoryTimeout, serverErrorHint},
}

var transientStatuses = map[int]struct {
	code     string
	category Category
	hint     time.Duration
}{
	408: {"REQUEST_TIMEOUT", CategoryTimeout, serverErrorHint},
	429: {"RATE_LIMITED", CategoryRateLimit, rateLimitHint},
	500: {"INTERNAL_SERVER_ERROR", CategoryRemoteServer, serverErrorHint},
	502: {"BAD_GATEWAY", CategoryRemoteServer, serverErrorHint},
	503: {"SERVICE_UNAVAILABLE", CategoryRemoteServer, unavailableHint},
	504: {"GATEWAY_TIMEOUT", CategoryRemoteServer, serverErrorHint},
}

// Classify maps a raw failure to an OperationError. Pure function, safe to
// call concurrently. Anything it cannot recognize is UNKNOWN and
// non-retryable: an ambiguous failure must not trigger repeated
// card-charge attempts.
func Classify(err error) *OperationError {
	if err == nil {
		return nil
	}

	// Already classified: pass through unchanged.
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}

	// 1. Abort/timeout signals.
	if isTimeout(err) {
		return &OperationError{
			Code:       "TIMEOUT",
			Category:   CategoryTimeout,
			Detail:     err.Error(),
			Retryable:  true,
			RetryAfter: timeoutHint,
		}
	}

	// 2. Low-level connection failures.
	if isConnectionError(err) {
		return &OperationError{
			Code:       "NETWORK_ERROR",
			Category:   CategoryNetwork,
			Detail:     err.Error(),
			Retryable:  true,
			RetryAfter: networkHint,
		}
	}

	// 3-4. Structured remote errors, by code first, then HTTP status.
	var remote *RemoteError
	if errors.As(err, &remote) {
		code := strings.ToUpper(remote.Code)
		if cat, ok := nonRetryableCodes[code]; ok {
			return &OperationError{
				Code:      code,
				Category:  cat,
				Detail:    remote.Detail,
				Retryable: false,
			}
		}
		if t, ok := transientCodes[code]; ok {
			return &OperationError{
				Code:       code,
				Category:   t.category,
				Detail:     remote.Detail,
				Retryable:  true,
				RetryAfter: t.hint,
			}
		}
		if t, ok := transientStatuses[remote.Status]; ok {
			return &OperationError{
				Code:       t.code,
				Category:   t.category,
				Detail:     remote.Detail,
				Retryable:  true,
				RetryAfter: t.hint,
			}
		}
		if remote.Status == 401 || remote.Status == 403 {
			return &OperationError{
				Code:      "UNAUTHORIZED",
				Category:  CategoryAuth,
				Detail:    remote.Detail,
				Retryable: false,
			}
		}
		if remote.Status >= 400 && remote.Status < 500 {
			return &OperationError{
				Code:      "BAD_REQUEST",
				Category:  CategoryValidation,
				Detail:    remote.Detail,
				Retryable: false,
			}
		}
	}

	// 5. Fail closed.
	return &OperationError{
		Code:      "UNKNOWN",
		Category:  CategoryUnknown,
		Detail:    err.Error(),
		Retryable: false,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded")
}

func isConnectionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection reset") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "no such host")
}
