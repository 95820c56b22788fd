package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreflux/toolgateway/internal/audit"
	"github.com/coreflux/toolgateway/internal/errkind"
	"github.com/coreflux/toolgateway/internal/policy"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/schema"

	"go.uber.org/zap"
)

func newHarness(t *testing.T, cfg policy.Config, tools ...registry.Tool) *Harness {
	t.Helper()
	reg := registry.New()
	if err := reg.RegisterMany(tools); err != nil {
		t.Fatalf("register: %v", err)
	}
	eng := policy.NewEngine(cfg)
	logger := audit.New(zap.NewNop(), "", nil, true)
	return New(reg, eng, logger, "test-actor", nil)
}

func echoTool(name string) registry.Tool {
	return registry.Tool{
		Name:        name,
		Description: "echo",
		InputSchema: schema.Object(schema.P("value", schema.String())),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"value": args["value"]}, nil
		},
	}
}

func TestInvokeToolNotFound(t *testing.T) {
	h := newHarness(t, policy.Config{})
	r := h.Invoke(context.Background(), "missing", nil)
	if r.Success || r.Code != string(errkind.ToolNotFound) {
		t.Fatalf("expected tool_not_found, got %+v", r)
	}
	if r.RequestID == "" {
		t.Fatal("expected a request id even on failure")
	}
}

func TestInvokeValidationFailure(t *testing.T) {
	cfg := policy.Config{AllowTools: map[string]struct{}{"echo": {}}, GlobalTimeoutMs: 1000, GlobalMaxBytes: 1 << 20}
	h := newHarness(t, cfg, echoTool("echo"))
	r := h.Invoke(context.Background(), "echo", map[string]any{"value": 5})
	if r.Success || r.Code != string(errkind.ValidationError) {
		t.Fatalf("expected validation_error, got %+v", r)
	}
}

func TestInvokePolicyDenied(t *testing.T) {
	cfg := policy.Config{DefaultDeny: true, GlobalTimeoutMs: 1000, GlobalMaxBytes: 1 << 20}
	h := newHarness(t, cfg, echoTool("echo"))
	r := h.Invoke(context.Background(), "echo", map[string]any{"value": "x"})
	if r.Success || r.Code != string(errkind.PolicyDenied) {
		t.Fatalf("expected policy_denied, got %+v", r)
	}
}

func TestInvokeSuccess(t *testing.T) {
	cfg := policy.Config{AllowTools: map[string]struct{}{"echo": {}}, GlobalTimeoutMs: 1000, GlobalMaxBytes: 1 << 20}
	h := newHarness(t, cfg, echoTool("echo"))
	r := h.Invoke(context.Background(), "echo", map[string]any{"value": "hi"})
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	m, ok := r.Value.(map[string]any)
	if !ok || m["value"] != "hi" {
		t.Fatalf("unexpected value: %+v", r.Value)
	}
}

func TestInvokeMaxBytesExceeded(t *testing.T) {
	cfg := policy.Config{AllowTools: map[string]struct{}{"echo": {}}, GlobalTimeoutMs: 1000, GlobalMaxBytes: 4}
	h := newHarness(t, cfg, echoTool("echo"))
	r := h.Invoke(context.Background(), "echo", map[string]any{"value": "much too long for the cap"})
	if r.Success || r.Code != string(errkind.MaxBytesExceeded) {
		t.Fatalf("expected max_bytes_exceeded, got %+v", r)
	}
}

func TestInvokeTimeout(t *testing.T) {
	slow := registry.Tool{
		Name:        "slow",
		Description: "slow",
		InputSchema: schema.Object(),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	cfg := policy.Config{
		AllowTools: map[string]struct{}{"slow": {}},
		PerTool:    map[string]policy.ToolPolicy{"slow": {}},
		GlobalTimeoutMs: 10,
		GlobalMaxBytes:  1 << 20,
	}
	h := newHarness(t, cfg, slow)
	r := h.Invoke(context.Background(), "slow", nil)
	if r.Success || r.Code != string(errkind.Timeout) {
		t.Fatalf("expected timeout, got %+v", r)
	}
}

func TestInvokeHandlerPanicBecomesInternalError(t *testing.T) {
	boom := registry.Tool{
		Name:        "boom",
		Description: "boom",
		InputSchema: schema.Object(),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			panic("kaboom")
		},
	}
	cfg := policy.Config{AllowTools: map[string]struct{}{"boom": {}}, GlobalTimeoutMs: 1000, GlobalMaxBytes: 1 << 20}
	h := newHarness(t, cfg, boom)
	r := h.Invoke(context.Background(), "boom", nil)
	if r.Success || r.Code != string(errkind.InternalError) {
		t.Fatalf("expected internal_error from recovered panic, got %+v", r)
	}
}

func TestInvokeHandlerTypedErrorPropagates(t *testing.T) {
	denyConn := registry.Tool{
		Name:        "denyconn",
		Description: "denyconn",
		InputSchema: schema.Object(),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errkind.New(errkind.SecurityError, "path outside allowlist")
		},
	}
	cfg := policy.Config{AllowTools: map[string]struct{}{"denyconn": {}}, GlobalTimeoutMs: 1000, GlobalMaxBytes: 1 << 20}
	h := newHarness(t, cfg, denyConn)
	r := h.Invoke(context.Background(), "denyconn", nil)
	if r.Success || r.Code != string(errkind.SecurityError) {
		t.Fatalf("expected security_error, got %+v", r)
	}
}

func TestInvokeHandlerUntypedErrorBecomesInternalError(t *testing.T) {
	plain := registry.Tool{
		Name:        "plain",
		Description: "plain",
		InputSchema: schema.Object(),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}
	cfg := policy.Config{AllowTools: map[string]struct{}{"plain": {}}, GlobalTimeoutMs: 1000, GlobalMaxBytes: 1 << 20}
	h := newHarness(t, cfg, plain)
	r := h.Invoke(context.Background(), "plain", nil)
	if r.Success || r.Code != string(errkind.InternalError) {
		t.Fatalf("expected internal_error, got %+v", r)
	}
}
