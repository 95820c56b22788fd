package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestHashArgsDeterministic(t *testing.T) {
	a := hashArgs(map[string]any{"b": 1, "a": "x"})
	b := hashArgs(map[string]any{"a": "x", "b": 1})
	if a != b {
		t.Fatalf("expected hash to be independent of map insertion order, got %s != %s", a, b)
	}
}

func TestHashArgsDiffersOnValue(t *testing.T) {
	a := hashArgs(map[string]any{"a": 1})
	b := hashArgs(map[string]any{"a": 2})
	if a == b {
		t.Fatal("expected different args to hash differently")
	}
}

func TestHashArgsNilIsStable(t *testing.T) {
	a := hashArgs(nil)
	b := hashArgs(nil)
	if a != b || a == "" {
		t.Fatalf("expected stable non-empty hash for nil args, got %s and %s", a, b)
	}
}

func TestLogSuccessPopulatesResultBytes(t *testing.T) {
	l := New(zap.NewNop(), "", nil, true)
	ctx := l.CreateContext("fs.readFile", "local", "", map[string]any{"path": "/tmp/x"})
	evt := l.LogSuccess(ctx, map[string]any{"content": "hello"})
	if evt.ResultBytes == 0 {
		t.Fatal("expected non-zero result_bytes on success")
	}
	if evt.Decision != DecisionAllow || evt.Reason != "execution_success" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.RequestID == "" || evt.ArgsSHA256 == "" {
		t.Fatalf("expected request id and args hash to be set: %+v", evt)
	}
}

func TestCreateContextCarriesTraceID(t *testing.T) {
	l := New(zap.NewNop(), "", nil, true)
	ctx := l.CreateContext("fs.readFile", "local", "trace-abc", map[string]any{"path": "/tmp/x"})
	evt := l.LogSuccess(ctx, map[string]any{"content": "hello"})
	if evt.TraceID != "trace-abc" {
		t.Fatalf("expected trace_id to propagate, got %q", evt.TraceID)
	}
}

func TestLogDeniedHasZeroResultBytes(t *testing.T) {
	l := New(zap.NewNop(), "", nil, true)
	ctx := l.CreateContext("db.query", "local", "", map[string]any{"sql": "SELECT 1"})
	evt := l.LogDenied(ctx, "default_deny")
	if evt.ResultBytes != 0 {
		t.Fatalf("expected zero result_bytes on deny, got %d", evt.ResultBytes)
	}
	if evt.Decision != DecisionDeny || evt.Reason != "default_deny" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestLogErrorCarriesErrorCode(t *testing.T) {
	l := New(zap.NewNop(), "", nil, true)
	ctx := l.CreateContext("web.fetch", "local", "", nil)
	evt := l.LogError(ctx, "connector failed", "connector_error")
	if evt.ErrorCode != "connector_error" {
		t.Fatalf("expected error_code to be preserved, got %q", evt.ErrorCode)
	}
	if evt.ResultBytes != 0 {
		t.Fatalf("expected zero result_bytes on error, got %d", evt.ResultBytes)
	}
}

func TestDisabledLoggerStillProducesContextButSkipsSinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	l := New(zap.NewNop(), path, nil, false)
	ctx := l.CreateContext("fs.readFile", "local", "", map[string]any{"path": "/tmp/x"})
	if ctx.RequestID == "" || ctx.ArgsHash == "" {
		t.Fatal("expected context to still be populated when disabled")
	}
	l.LogSuccess(ctx, map[string]any{"ok": true})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected disabled logger to skip the file sink entirely")
	}
}

func TestFileSinkWritesOneJSONLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.log")
	l := New(zap.NewNop(), path, nil, true)

	ctx1 := l.CreateContext("fs.readFile", "local", "", map[string]any{"path": "/a"})
	l.LogSuccess(ctx1, map[string]any{"ok": true})
	ctx2 := l.CreateContext("fs.readFile", "local", "", map[string]any{"path": "/b"})
	l.LogDenied(ctx2, "default_deny")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected audit log file to exist under a created parent dir: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(data))
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "[audit]") {
			t.Fatalf("expected file sink lines to be bare JSON without the process-log prefix, got %q", line)
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("expected valid JSON line, got %q: %v", line, err)
		}
	}
}

type stubWriter struct {
	batches [][]Event
}

func (s *stubWriter) WriteBatch(_ context.Context, events []Event) error {
	cp := make([]Event, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return nil
}

func TestPostgresSinkDrainsOnStop(t *testing.T) {
	w := &stubWriter{}
	sink := NewPostgresSink(w, zap.NewNop())
	sink.Start()

	l := New(zap.NewNop(), "", sink, true)
	for i := 0; i < 5; i++ {
		ctx := l.CreateContext("fs.readFile", "local", "", map[string]any{"i": i})
		l.LogSuccess(ctx, map[string]any{"ok": true})
	}

	sink.Stop()

	total := 0
	for _, b := range w.batches {
		total += len(b)
	}
	if total != 5 {
		t.Fatalf("expected all 5 events to be flushed on stop, got %d", total)
	}
}
