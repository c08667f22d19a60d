// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// decodeLines parses each emitted JSON log line.
func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("Log line is not valid JSON: %v (%s)", err, line)
		}
		entries = append(entries, e)
	}
	return entries
}

// TestLevelFiltering verifies entries below the minimum level are dropped.
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	l.Error("kept too", fmt.Errorf("boom"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("Unexpected levels: %s, %s", entries[0].Level, entries[1].Level)
	}
	if entries[1].Error != "boom" {
		t.Errorf("Expected error field, got %q", entries[1].Error)
	}
}

// TestContextMerge verifies multiple context maps are merged into one.
func TestContextMerge(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("merged",
		map[string]interface{}{"a": "1"},
		map[string]interface{}{"b": "2"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Context["a"] != "1" || entries[0].Context["b"] != "2" {
		t.Errorf("Context not merged: %v", entries[0].Context)
	}
}

// TestErrorWithCode verifies the code field is emitted.
func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.ErrorWithCode("cycle failed", "SYNC_FAILED", fmt.Errorf("remote down"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Code != "SYNC_FAILED" {
		t.Errorf("Expected code SYNC_FAILED, got %q", entries[0].Code)
	}
}
