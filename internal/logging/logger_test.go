// Package logging tests for structured logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestLogger_JSONContext verifies context keys are written as attributes.
func TestLogger_JSONContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelDebug, Output: &buf, JSON: true})

	logger.Info("upload finished", map[string]interface{}{"game_id": 42, "channel": "slot1"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["msg"] != "upload finished" {
		t.Errorf("msg = %v", entries[0]["msg"])
	}
	if entries[0]["channel"] != "slot1" {
		t.Errorf("channel = %v", entries[0]["channel"])
	}
	if entries[0]["game_id"] != float64(42) {
		t.Errorf("game_id = %v", entries[0]["game_id"])
	}
}

// TestLogger_MinLevel verifies entries below the minimum level are dropped.
func TestLogger_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelWarn, Output: &buf, JSON: true})

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "shown" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelInfo, Output: &buf, JSON: true})

	logger.ErrorWithCode("sync failed", "SYNC_FAILED", errors.New("timeout"), map[string]interface{}{"game_id": 7})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["code"] != "SYNC_FAILED" || entries[0]["error"] != "timeout" {
		t.Errorf("unexpected entry: %v", entries[0])
	}
}

// TestLogger_MergeContexts verifies later maps override earlier keys.
func TestLogger_MergeContexts(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf, JSON: true})

	logger.Info("merged", map[string]interface{}{"a": "1", "b": "1"}, map[string]interface{}{"b": "2"})

	entries := decodeLines(t, &buf)
	if entries[0]["a"] != "1" || entries[0]["b"] != "2" {
		t.Errorf("unexpected merge result: %v", entries[0])
	}
}

// TestInitReplacesGlobal verifies package-level helpers use the installed logger.
func TestInitReplacesGlobal(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: LevelDebug, Output: &buf, JSON: true})
	t.Cleanup(func() { Init(Options{Level: LevelInfo, JSON: true}) })

	Debug("global debug", map[string]interface{}{"k": "v"})

	if !strings.Contains(buf.String(), "global debug") {
		t.Errorf("global logger did not receive entry: %q", buf.String())
	}
}

// TestParseLevel verifies level name parsing.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		" error ": LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
