// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound,
		ErrDatabase, ErrMigration,
		ErrSyncNotConfigured, ErrSyncFailed, ErrSyncConflict, ErrSyncAuthFailed, ErrSyncTimeout, ErrNoSaveFound,
		ErrBackupFailed, ErrSnapshotFailed, ErrCorruptedArchive,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("error code must not be empty")
		}
		if seen[code] {
			t.Errorf("duplicate error code %s", code)
		}
		seen[code] = true
	}
}

// TestAppErrorMessage tests the formatted message with and without a cause.
func TestAppErrorMessage(t *testing.T) {
	plain := New(ErrNoSaveFound, "save file missing")
	if got := plain.Error(); got != "[NO_SAVE_FOUND] save file missing" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("disk full")
	wrapped := Wrap(ErrBackupFailed, "backup before overwrite", cause)
	if !strings.Contains(wrapped.Error(), "disk full") {
		t.Errorf("wrapped message should contain cause, got %q", wrapped.Error())
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Unwrap should expose the cause")
	}
}

// TestIsMatchesWrappedChain tests that Is sees AppErrors wrapped with %w.
func TestIsMatchesWrappedChain(t *testing.T) {
	inner := New(ErrSyncConflict, "stale device view")
	outer := fmt.Errorf("upload game 42: %w", inner)

	if !Is(outer, ErrSyncConflict) {
		t.Error("Is should match a wrapped AppError")
	}
	if Is(outer, ErrSyncFailed) {
		t.Error("Is should not match a different code")
	}
	if Is(errors.New("plain"), ErrInternal) {
		t.Error("Is should not match a non-AppError")
	}
}

// TestCodeOf tests code extraction with a fallback.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(Wrap(ErrDatabase, "query", errors.New("locked"))); got != ErrDatabase {
		t.Errorf("CodeOf = %s, want %s", got, ErrDatabase)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf = %s, want %s", got, ErrInternal)
	}
}
