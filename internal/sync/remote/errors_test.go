package remote

import (
	"fmt"
	"net/http"
	"testing"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
)

// testTimeoutError implements Timeout() for testing.
type testTimeoutError struct{}

func (e *testTimeoutError) Error() string { return "timeout" }
func (e *testTimeoutError) Timeout() bool { return true }

// TestCategorizeError verifies network error categorization.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected apperrors.ErrorCode
	}{
		{"nil error", nil, apperrors.ErrSyncFailed},
		{"timeout error", &testTimeoutError{}, apperrors.ErrSyncTimeout},
		{"wrapped timeout", fmt.Errorf("dial: %w", &testTimeoutError{}), apperrors.ErrSyncTimeout},
		{"generic error", fmt.Errorf("some error"), apperrors.ErrSyncFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeError(tt.err); got != tt.expected {
				t.Errorf("categorizeError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestCategorizeHTTPError verifies HTTP status categorization.
func TestCategorizeHTTPError(t *testing.T) {
	tests := []struct {
		status   int
		expected apperrors.ErrorCode
	}{
		{http.StatusUnauthorized, apperrors.ErrSyncAuthFailed},
		{http.StatusForbidden, apperrors.ErrSyncAuthFailed},
		{http.StatusConflict, apperrors.ErrSyncConflict},
		{http.StatusNotFound, apperrors.ErrNotFound},
		{http.StatusGatewayTimeout, apperrors.ErrSyncTimeout},
		{http.StatusInternalServerError, apperrors.ErrSyncFailed},
	}
	for _, tt := range tests {
		if got := categorizeHTTPError(tt.status); got != tt.expected {
			t.Errorf("categorizeHTTPError(%d) = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

// TestRetryable verifies which failures are retried.
func TestRetryable(t *testing.T) {
	if !retryable(&HTTPError{StatusCode: 502}) {
		t.Error("5xx should be retryable")
	}
	if !retryable(&HTTPError{StatusCode: 429}) {
		t.Error("429 should be retryable")
	}
	if retryable(&HTTPError{StatusCode: 409}) {
		t.Error("409 must not be retried")
	}
	if !retryable(&TransportError{Op: "get", Err: fmt.Errorf("reset")}) {
		t.Error("transport errors should be retryable")
	}
	if retryable(fmt.Errorf("decode")) {
		t.Error("plain errors should not be retryable")
	}
}

// TestTruncateString verifies body truncation.
func TestTruncateString(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncateString(tt.s, tt.maxLen); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
		}
	}
}
