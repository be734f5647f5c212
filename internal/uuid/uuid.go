// Package uuid generates identifiers for snapshots and queue entries.
package uuid

import (
	"github.com/google/uuid"
)

// New generates a new random UUID string.
func New() string {
	return uuid.New().String()
}

// IsValid reports whether s parses as a version 4 UUID.
func IsValid(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && len(s) == 36
}

// Short returns the first eight hex characters of id, used where a
// compact but still collision-resistant tag is needed in file names.
func Short(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
