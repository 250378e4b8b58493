package zerologger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.Info("message delivered", "endpoint", "orders", "try_count", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["message"] != "message delivered" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["endpoint"] != "orders" {
		t.Fatalf("unexpected endpoint field: %v", entry["endpoint"])
	}
	if entry["try_count"] != float64(2) {
		t.Fatalf("unexpected try_count field: %v", entry["try_count"])
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
}

func TestLoggerErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.Error("delivery failed", "error", errors.New("broker down"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["error"] != "broker down" {
		t.Fatalf("unexpected error field: %v", entry["error"])
	}
}

func TestLoggerOddArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.Warn("lease denied", "dangling")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["arg"] != "dangling" {
		t.Fatalf("unexpected dangling arg handling: %v", entry)
	}
}
