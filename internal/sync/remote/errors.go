package remote

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
)

// HTTPError is a non-2xx response from the save server.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Code maps the status to an application error code.
func (e *HTTPError) Code() apperrors.ErrorCode {
	return categorizeHTTPError(e.StatusCode)
}

// TransportError is a request that never produced a response.
type TransportError struct {
	Op   string
	Code apperrors.ErrorCode
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a 409 response, meaning this device's
// view of the save is stale.
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// CodeOf maps any client error to an application error code.
func CodeOf(err error) apperrors.ErrorCode {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Code()
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.Code
	}
	return apperrors.ErrSyncFailed
}

// retryable reports whether a failed attempt may succeed when repeated.
func retryable(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500 || herr.StatusCode == http.StatusTooManyRequests
	}
	var terr *TransportError
	return errors.As(err, &terr)
}

// categorizeError classifies transport failures.
func categorizeError(err error) apperrors.ErrorCode {
	if err == nil {
		return apperrors.ErrSyncFailed
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return apperrors.ErrSyncTimeout
	}
	return apperrors.ErrSyncFailed
}

func categorizeHTTPError(status int) apperrors.ErrorCode {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.ErrSyncAuthFailed
	case status == http.StatusConflict:
		return apperrors.ErrSyncConflict
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperrors.ErrSyncTimeout
	default:
		return apperrors.ErrSyncFailed
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
