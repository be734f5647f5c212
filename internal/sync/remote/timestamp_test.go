package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestParseTimestamp tests the accepted server timestamp forms.
func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
	}{
		{"instant", "2024-05-01T10:00:00Z"},
		{"fractional", "2024-05-01T10:00:00.000000Z"},
		{"offset", "2024-05-01T12:00:00+02:00"},
		{"zoned", "2024-05-01T12:00:00+02:00[Europe/Berlin]"},
		{"naive", "2024-05-01T10:00:00"},
		{"space", "2024-05-01 10:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTimestamp(tt.in)
			assert.True(t, ok)
			assert.True(t, got.Equal(want), "got %v", got)
		})
	}
}

// TestParseTimestamp_fallback tests the fallback to now.
func TestParseTimestamp_fallback(t *testing.T) {
	before := time.Now()
	got := ParseTimestamp("not a time")
	assert.False(t, got.Before(before))
	assert.WithinDuration(t, time.Now(), got, time.Second)
}
