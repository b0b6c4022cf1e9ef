package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  Category
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, CategoryTimeout, true},
		{"timeout text", errors.New("i/o timeout"), CategoryTimeout, true},
		{"conn reset", errors.New("read tcp: connection reset by peer"), CategoryNetwork, true},
		{"conn refused", errors.New("dial tcp: connection refused"), CategoryNetwork, true},
		{"dns", errors.New("lookup api.example.com: no such host"), CategoryNetwork, true},
		{"card declined", &RemoteError{Status: 402, Code: "CARD_DECLINED"}, CategoryValidation, false},
		{"cvv failure", &RemoteError{Status: 402, Code: "CVV_FAILURE"}, CategoryValidation, false},
		{"avs failure", &RemoteError{Status: 402, Code: "ADDRESS_VERIFICATION_FAILURE"}, CategoryValidation, false},
		{"expired card", &RemoteError{Status: 402, Code: "EXPIRED_CARD"}, CategoryValidation, false},
		{"insufficient funds", &RemoteError{Status: 402, Code: "INSUFFICIENT_FUNDS"}, CategoryValidation, false},
		{"unauthorized", &RemoteError{Status: 401, Code: "UNAUTHORIZED"}, CategoryAuth, false},
		{"not found", &RemoteError{Status: 404, Code: "NOT_FOUND"}, CategoryValidation, false},
		{"invalid request", &RemoteError{Status: 400, Code: "INVALID_REQUEST_ERROR"}, CategoryValidation, false},
		{"rate limited", &RemoteError{Status: 429, Code: "RATE_LIMITED"}, CategoryRateLimit, true},
		{"unavailable", &RemoteError{Status: 503, Code: "SERVICE_UNAVAILABLE"}, CategoryRemoteServer, true},
		{"internal", &RemoteError{Status: 500, Code: "INTERNAL_SERVER_ERROR"}, CategoryRemoteServer, true},
		{"gateway timeout", &RemoteError{Status: 504, Code: "GATEWAY_TIMEOUT"}, CategoryRemoteServer, true},
		{"status only 503", &RemoteError{Status: 503}, CategoryRemoteServer, true},
		{"status only 429", &RemoteError{Status: 429}, CategoryRateLimit, true},
		{"unknown code 4xx", &RemoteError{Status: 422, Code: "SOMETHING_NEW"}, CategoryValidation, false},
		{"unrecognized", errors.New("entirely novel failure"), CategoryUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Category != tt.category {
				t.Errorf("category = %s, want %s", got.Category, tt.category)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

func TestClassifyHints(t *testing.T) {
	tests := []struct {
		err  error
		hint time.Duration
	}{
		{context.DeadlineExceeded, 2 * time.Second},
		{errors.New("connection refused"), 1 * time.Second},
		{&RemoteError{Status: 429, Code: "RATE_LIMITED"}, 5 * time.Second},
		{&RemoteError{Status: 503, Code: "SERVICE_UNAVAILABLE"}, 10 * time.Second},
		{&RemoteError{Status: 500, Code: "INTERNAL_SERVER_ERROR"}, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got.RetryAfter != tt.hint {
			t.Errorf("Classify(%v).RetryAfter = %v, want %v", tt.err, got.RetryAfter, tt.hint)
		}
	}
}

func TestClassifyUnknownFailsClosed(t *testing.T) {
	got := Classify(errors.New("remote said something we have no rule for"))
	if got.Retryable {
		t.Fatal("unclassifiable errors must not be retryable")
	}
	if got.Code != "UNKNOWN" {
		t.Errorf("code = %s, want UNKNOWN", got.Code)
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := &OperationError{Code: "CARD_DECLINED", Category: CategoryValidation}
	if got := Classify(orig); got != orig {
		t.Error("already-classified errors must pass through unchanged")
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}
