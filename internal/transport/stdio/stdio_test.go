package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/coreflux/toolgateway/internal/audit"
	"github.com/coreflux/toolgateway/internal/gateway"
	"github.com/coreflux/toolgateway/internal/policy"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/schema"
	"go.uber.org/zap"
)

func newTestHarness(t *testing.T) *gateway.Harness {
	t.Helper()
	reg := registry.New()
	if err := reg.Register(registry.Tool{
		Name:        "echo",
		InputSchema: schema.Object(schema.P("msg", schema.String())),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"echoed": args["msg"]}, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	eng := policy.NewEngine(policy.Config{DefaultDeny: false, GlobalTimeoutMs: 1000, GlobalMaxBytes: 4096})
	logger := audit.New(zap.NewNop(), "", nil, true)
	return gateway.New(reg, eng, logger, "test-actor", nil)
}

func TestServeHandlesInvokeAndList(t *testing.T) {
	h := newTestHarness(t)
	srv := New(h, zap.NewNop())

	input := strings.NewReader(
		`{"id":"1","tool":"echo","args":{"msg":"hi"}}` + "\n" +
			`{"id":"2"}` + "\n",
	)
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), input, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %q", len(lines), out.String())
	}

	var first Response
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first response: %v", err)
	}
	if !first.Success || first.ID != "1" {
		t.Fatalf("unexpected first response: %+v", first)
	}

	var second Response
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	if !second.Success || second.Tools == nil {
		t.Fatalf("expected list-tools response to carry a tool list, got %+v", second)
	}
}

func TestServeReportsMalformedLine(t *testing.T) {
	h := newTestHarness(t)
	srv := New(h, zap.NewNop())

	input := strings.NewReader("not json\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), input, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Code != "validation_error" {
		t.Fatalf("expected validation_error response, got %+v", resp)
	}
}
