package fsconn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coreflux/toolgateway/internal/errkind"
)

func mustWriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestReadFileWithinAllowlist(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, dir, "hello.txt", "Hello, MCP Gateway!")

	c := New(Config{AllowedPaths: []string{dir}})
	res, err := c.readFile(context.Background(), map[string]any{
		"path": filepath.Join(dir, "hello.txt"), "encoding": "utf-8",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.(map[string]any)
	if m["content"] != "Hello, MCP Gateway!" {
		t.Fatalf("unexpected content: %v", m["content"])
	}
	if m["size"] != int64(19) {
		t.Fatalf("expected size 19, got %v", m["size"])
	}
}

func TestReadFileOutsideAllowlistDenied(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{AllowedPaths: []string{dir}})
	_, err := c.readFile(context.Background(), map[string]any{"path": "/etc/passwd", "encoding": "utf-8"})
	e, ok := errkind.As(err)
	if !ok || e.Kind != errkind.SecurityError {
		t.Fatalf("expected security_error, got %v", err)
	}
}

func TestReadFileEmptyAllowlistDeniesAll(t *testing.T) {
	dir := t.TempDir()
	target := mustWriteFile(t, dir, "hello.txt", "x")
	c := New(Config{})
	_, err := c.readFile(context.Background(), map[string]any{"path": target, "encoding": "utf-8"})
	e, ok := errkind.As(err)
	if !ok || e.Kind != errkind.SecurityError {
		t.Fatalf("expected security_error on empty allowlist, got %v", err)
	}
}

func TestReadFileDeniedPathWinsOverAllowed(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "secret")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	target := mustWriteFile(t, sub, "x.txt", "nope")

	c := New(Config{AllowedPaths: []string{dir}, DeniedPaths: []string{sub}})
	_, err := c.readFile(context.Background(), map[string]any{"path": target, "encoding": "utf-8"})
	e, ok := errkind.As(err)
	if !ok || e.Kind != errkind.SecurityError {
		t.Fatalf("expected security_error, got %v", err)
	}
}

func TestSegmentBoundaryNotTextualPrefix(t *testing.T) {
	dir := t.TempDir()
	allow := filepath.Join(dir, "allow")
	allowedFoo := filepath.Join(dir, "allow", "foo")
	sibling := filepath.Join(dir, "allowed-but-not-really")
	if err := os.MkdirAll(allowedFoo, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(sibling, 0o755); err != nil {
		t.Fatal(err)
	}
	target := mustWriteFile(t, sibling, "x.txt", "nope")

	c := New(Config{AllowedPaths: []string{allow}})
	_, err := c.readFile(context.Background(), map[string]any{"path": target, "encoding": "utf-8"})
	e, ok := errkind.As(err)
	if !ok || e.Kind != errkind.SecurityError {
		t.Fatalf("expected security_error for sibling directory sharing a textual prefix, got %v", err)
	}
}

func TestReadFileRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	target := mustWriteFile(t, dir, "big.txt", "0123456789")
	c := New(Config{AllowedPaths: []string{dir}, MaxFileSize: 5})
	_, err := c.readFile(context.Background(), map[string]any{"path": target, "encoding": "utf-8"})
	e, ok := errkind.As(err)
	if !ok || e.Kind != errkind.SecurityError {
		t.Fatalf("expected security_error for oversized file, got %v", err)
	}
}

func TestReadFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{AllowedPaths: []string{dir}})
	_, err := c.readFile(context.Background(), map[string]any{"path": dir, "encoding": "utf-8"})
	e, ok := errkind.As(err)
	if !ok || e.Kind != errkind.ConnectorError {
		t.Fatalf("expected connector_error for non-regular file, got %v", err)
	}
}

func TestListDirRecursiveWithDepthCap(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	mustWriteFile(t, dir, "top.txt", "x")
	mustWriteFile(t, filepath.Join(dir, "a"), "one.txt", "x")
	mustWriteFile(t, filepath.Join(dir, "a", "b"), "two.txt", "x")

	c := New(Config{AllowedPaths: []string{dir}})
	res, err := c.listDir(context.Background(), map[string]any{
		"path": dir, "recursive": true, "max_depth": float64(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.(map[string]any)
	entries := m["entries"].([]map[string]any)

	found := map[string]bool{}
	for _, e := range entries {
		found[e["name"].(string)] = true
	}
	if !found["top.txt"] || !found["a"] || !found["one.txt"] {
		t.Fatalf("expected depth-1 and depth-2 entries present, got %v", found)
	}
	if found["two.txt"] {
		t.Fatal("expected depth-3 entry to be excluded by max_depth=2")
	}
}

func TestListDirNonRecursiveOnlyTopLevel(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWriteFile(t, dir, "top.txt", "x")

	c := New(Config{AllowedPaths: []string{dir}})
	res, err := c.listDir(context.Background(), map[string]any{"path": dir, "recursive": false, "max_depth": float64(3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.(map[string]any)
	if m["count"] != 2 {
		t.Fatalf("expected 2 top-level entries, got %v", m["count"])
	}
}

func TestIsDescendantOrEqualSegmentBoundary(t *testing.T) {
	if isDescendantOrEqual("/allow/foo", "/all") {
		t.Fatal("expected /allow/foo to not be a descendant of /all")
	}
	if !isDescendantOrEqual("/allow/foo", "/allow") {
		t.Fatal("expected /allow/foo to be a descendant of /allow")
	}
	if !isDescendantOrEqual("/allow", "/allow") {
		t.Fatal("expected a path to be its own descendant (equal case)")
	}
}
