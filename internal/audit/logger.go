package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context carries the per-invocation state a Logger needs to emit its one
// event: the request id and args hash are fixed at creation time, before
// policy or execution has run, so they are stable across every path an
// invocation can take.
type Context struct {
	RequestID string
	TraceID   string
	Tool      string
	Actor     string
	ArgsHash  string
	start     time.Time
}

// Logger fans one audit event out to a process log line (always), an
// optional append-only file, and an optional durable Postgres sink.
type Logger struct {
	zapLogger *zap.Logger
	filePath  string
	fileMu    sync.Mutex
	sink      *PostgresSink
	enabled   bool
}

// New constructs a Logger. filePath may be empty to disable the file sink.
// sink may be nil to disable the durable sink; if non-nil it must already
// be Start()-ed by the caller. enabled=false still computes request ids
// and hashes via CreateContext but skips writing to every sink — useful
// for dry-run invocations that should not pollute the audit trail.
func New(zapLogger *zap.Logger, filePath string, sink *PostgresSink, enabled bool) *Logger {
	return &Logger{
		zapLogger: zapLogger,
		filePath:  filePath,
		sink:      sink,
		enabled:   enabled,
	}
}

// CreateContext computes the request id and the deterministic hash of args
// for one invocation, independent of tool, actor, or outcome. traceID is a
// transport-supplied correlator (may be empty) recorded alongside the
// gateway-generated request id, never used in place of it.
func (l *Logger) CreateContext(tool, actor, traceID string, args map[string]any) *Context {
	hash := hashArgs(args)
	return &Context{
		RequestID: uuid.NewString(),
		TraceID:   traceID,
		Tool:      tool,
		Actor:     actor,
		ArgsHash:  hash,
		start:     time.Now(),
	}
}

// hashArgs returns the hex SHA-256 of the canonical JSON encoding of args.
// encoding/json already sorts map[string]any keys and uses the shortest
// round-tripping decimal form for float64, which is exactly the
// canonicalization this hash needs; nil args encode as the JSON literal
// null rather than being treated as a distinct "undefined" case.
func hashArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte("null")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LogSuccess records a successful invocation. result is marshaled only to
// measure its size; the audit trail never stores the result itself.
func (l *Logger) LogSuccess(ctx *Context, result any) Event {
	return l.log(ctx, DecisionAllow, "execution_success", result, "")
}

// LogDenied records a policy denial. reason should be the Decision.Reason
// from the policy engine.
func (l *Logger) LogDenied(ctx *Context, reason string) Event {
	return l.log(ctx, DecisionDeny, reason, nil, "")
}

// LogError records an allowed invocation that failed during execution
// (security, connector, timeout, size-cap, or internal error; validation
// failures are denials and go through LogDenied). errorCode is the
// errkind.Kind of the failure.
func (l *Logger) LogError(ctx *Context, reason, errorCode string) Event {
	return l.log(ctx, DecisionAllow, reason, nil, errorCode)
}

func (l *Logger) log(ctx *Context, decision, reason string, result any, errorCode string) Event {
	duration := time.Since(ctx.start)
	if duration < 0 {
		duration = 0
	}

	resultBytes := 0
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			resultBytes = len(b)
		}
	}

	event := Event{
		Timestamp:   nowISOMillis(),
		RequestID:   ctx.RequestID,
		TraceID:     ctx.TraceID,
		Tool:        ctx.Tool,
		Actor:       ctx.Actor,
		ArgsSHA256:  ctx.ArgsHash,
		Decision:    decision,
		Reason:      reason,
		DurationMs:  duration.Milliseconds(),
		ResultBytes: resultBytes,
		ErrorCode:   errorCode,
	}

	if l.enabled {
		l.writeSinks(event)
	}
	return event
}

func (l *Logger) writeSinks(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		l.zapLogger.Error("audit event marshal failed", zap.Error(err))
		return
	}

	l.zapLogger.Info("[audit] " + string(payload))

	if l.filePath != "" {
		if err := l.appendToFile(payload); err != nil {
			l.zapLogger.Error("audit file sink write failed", zap.Error(err), zap.String("path", l.filePath))
		}
	}

	if l.sink != nil {
		l.sink.Enqueue(event)
	}
}

func (l *Logger) appendToFile(payload []byte) error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if dir := filepath.Dir(l.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure audit log dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write audit log line: %w", err)
	}
	return nil
}
