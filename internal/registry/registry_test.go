package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/coreflux/toolgateway/internal/schema"
)

func stubTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "stub",
		InputSchema: schema.Object(),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, nil
		},
	}
}

func TestRegisterAndListOrder(t *testing.T) {
	r := New()
	if err := r.RegisterMany([]Tool{stubTool("a"), stubTool("b"), stubTool("c")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := r.ListNames()
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("order mismatch at %d: got %s want %s", i, got[i], name)
		}
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	if err := r.Register(stubTool("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register(stubTool("a"))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestLookupAbsent(t *testing.T) {
	r := New()
	_, ok := r.Lookup("missing")
	if ok {
		t.Fatal("expected lookup miss")
	}
}

func TestMetadataShape(t *testing.T) {
	r := New()
	tool := stubTool("fs.readFile")
	tool.InputSchema = schema.Object(schema.P("path", schema.String()))
	_ = r.Register(tool)
	md := r.Metadata()
	if len(md) != 1 {
		t.Fatalf("expected 1 metadata entry, got %d", len(md))
	}
	if md[0].JSONSchema["type"] != "object" {
		t.Fatalf("expected object type, got %v", md[0].JSONSchema["type"])
	}
}
