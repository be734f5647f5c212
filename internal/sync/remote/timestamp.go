package remote

import (
	"strings"
	"time"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a server timestamp. Instants, offset and zone-less
// forms are accepted; zone-less values are taken as UTC. Unparseable input
// yields the current time with a warning.
func ParseTimestamp(s string) time.Time {
	if t, ok := parseTimestamp(s); ok {
		return t
	}
	logging.Warn("Unparseable server timestamp, using now", map[string]interface{}{"value": s})
	return time.Now()
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Zoned form such as 2024-01-01T10:00:00+01:00[Europe/Paris]
	if i := strings.IndexByte(s, '['); i > 0 && strings.HasSuffix(s, "]") {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
