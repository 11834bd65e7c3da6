package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/ids"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := obs.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(restore)
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := buf.Bytes()
	if len(line) == 0 {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	return entry
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithUser(ctx, "user-42", []string{"admin"})

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entry := decodeLine(t, buf)
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	_ = captureLog(t)
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestSinkWritesEngineEvent(t *testing.T) {
	buf := captureLog(t)

	evt := rosca.Event{ID: "01J", Kind: rosca.EventContributionRecorded, GroupID: 3, Cycle: 1, Member: "bob", Amount: 100, Timestamp: 99}
	if err := (Sink{}).Emit(WithRequestID(context.Background(), "req-9"), evt); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	entry := decodeLine(t, buf)
	if entry["event"] != "contribution.recorded" || entry["request_id"] != "req-9" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	fields := entry["fields"].(map[string]any)
	if fields["member"] != "bob" || fields["amount"] != float64(100) || fields["group_id"] != float64(3) {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["emitted_at"]; ok {
		t.Fatalf("non-ULID event id should not yield emitted_at: %v", fields)
	}
}

func TestSinkStampsEmissionTime(t *testing.T) {
	buf := captureLog(t)

	evt := rosca.Event{ID: ids.New(), Kind: rosca.EventGroupCreated, GroupID: 1, Member: "alice"}
	if err := (Sink{}).Emit(context.Background(), evt); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	fields := decodeLine(t, buf)["fields"].(map[string]any)
	raw, ok := fields["emitted_at"].(string)
	if !ok {
		t.Fatalf("expected emitted_at, got %v", fields)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.Fatalf("parse emitted_at: %v", err)
	}
	if time.Since(at) > time.Minute {
		t.Fatalf("emitted_at too old: %v", at)
	}
}
