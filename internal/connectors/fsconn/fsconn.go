// Package fsconn implements the filesystem safety connector: path
// confinement against traversal and symlink escape, then fs.readFile and
// fs.listDir. The connector shape (a config-holding struct exposing
// registry.Tool values) follows the other connectors in this tree; the
// confinement algorithm itself is purpose-built for jailed file access.
package fsconn

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coreflux/toolgateway/internal/errkind"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/schema"
)

// Config is the static, process-lifetime configuration for the filesystem
// connector.
type Config struct {
	AllowedPaths []string
	DeniedPaths  []string
	MaxFileSize  int64
}

// Connector holds Config and exposes its tools.
type Connector struct {
	cfg Config
}

// New constructs a Connector over cfg.
func New(cfg Config) *Connector {
	return &Connector{cfg: cfg}
}

// Tools returns fs.readFile and fs.listDir, in that order.
func (c *Connector) Tools() []registry.Tool {
	return []registry.Tool{c.readFileTool(), c.listDirTool()}
}

func (c *Connector) readFileTool() registry.Tool {
	return registry.Tool{
		Name:        "fs.readFile",
		Description: "Read a file within the configured allowed paths.",
		InputSchema: schema.Object(
			schema.P("path", schema.String()),
			schema.P("encoding", schema.Enum("utf-8", "utf8", "base64", "hex").WithDefault("utf-8")),
		),
		Handler: c.readFile,
	}
}

func (c *Connector) listDirTool() registry.Tool {
	maxDepth := schema.Number()
	one, ten := 1.0, 10.0
	maxDepth.Min = &one
	maxDepth.Max = &ten
	maxDepth.Integer = true

	return registry.Tool{
		Name:        "fs.listDir",
		Description: "List a directory within the configured allowed paths.",
		InputSchema: schema.Object(
			schema.P("path", schema.String()),
			schema.P("recursive", schema.Boolean().WithDefault(false)),
			schema.P("max_depth", maxDepth.WithDefault(3.0)),
		),
		Handler: c.listDir,
	}
}

func (c *Connector) readFile(ctx context.Context, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Timeout, "canceled before read", err)
	}

	path, _ := args["path"].(string)
	encoding, _ := args["encoding"].(string)

	canon, err := c.confine(path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(canon)
	if statErr != nil {
		return nil, errkind.Wrap(errkind.ConnectorError, "stat failed", statErr)
	}
	if !info.Mode().IsRegular() {
		return nil, errkind.New(errkind.ConnectorError, "not a regular file")
	}
	if c.cfg.MaxFileSize > 0 && info.Size() > c.cfg.MaxFileSize {
		return nil, errkind.New(errkind.SecurityError, "file exceeds max_file_size")
	}

	data, readErr := os.ReadFile(canon)
	if readErr != nil {
		return nil, errkind.Wrap(errkind.ConnectorError, "read failed", readErr)
	}

	content, encErr := encode(data, encoding)
	if encErr != nil {
		return nil, errkind.New(errkind.ValidationError, encErr.Error())
	}

	return map[string]any{
		"path":     canon,
		"content":  content,
		"size":     info.Size(),
		"encoding": encoding,
	}, nil
}

func (c *Connector) listDir(ctx context.Context, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Timeout, "canceled before list", err)
	}

	path, _ := args["path"].(string)
	recursive, _ := args["recursive"].(bool)
	maxDepth := 3
	if md, ok := args["max_depth"].(float64); ok {
		maxDepth = int(md)
	}

	canon, err := c.confine(path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(canon)
	if statErr != nil {
		return nil, errkind.Wrap(errkind.ConnectorError, "stat failed", statErr)
	}
	if !info.IsDir() {
		return nil, errkind.New(errkind.ConnectorError, "not a directory")
	}

	entries, err := c.listEntries(canon, 1, maxDepth, recursive)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"path":    canon,
		"entries": entries,
		"count":   len(entries),
	}, nil
}

// listEntries enumerates dirPath's children, re-confining each one before
// inclusion. Children that escape the allowlist via symlink resolution are
// silently skipped, per spec, not surfaced as errors.
func (c *Connector) listEntries(dirPath string, depth, maxDepth int, recursive bool) ([]map[string]any, error) {
	children, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConnectorError, "read dir failed", err)
	}

	names := make([]string, len(children))
	for i, ch := range children {
		names[i] = ch.Name()
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		childPath := filepath.Join(dirPath, name)
		canonChild, confErr := c.confine(childPath)
		if confErr != nil {
			continue
		}

		info, lerr := os.Lstat(canonChild)
		if lerr != nil {
			continue
		}

		entryType := "file"
		entry := map[string]any{"name": name, "path": canonChild, "type": entryType}
		if info.IsDir() {
			entry["type"] = "dir"
		} else {
			entry["size"] = info.Size()
		}
		out = append(out, entry)

		if recursive && info.IsDir() && depth < maxDepth {
			nested, nerr := c.listEntries(canonChild, depth+1, maxDepth, recursive)
			if nerr == nil {
				out = append(out, nested...)
			}
		}
	}
	return out, nil
}

// confine implements the path confinement algorithm: canonicalize, reject
// denied_paths, then require the target be within some allowed_paths
// entry. "Descendant" is checked on path segment boundaries, not textual
// prefix.
func (c *Connector) confine(rawPath string) (string, error) {
	canon, err := canonicalize(rawPath)
	if err != nil {
		return "", errkind.Wrap(errkind.SecurityError, "invalid path", err)
	}

	for _, denied := range c.cfg.DeniedPaths {
		dcanon, derr := canonicalize(denied)
		if derr != nil {
			continue
		}
		if isDescendantOrEqual(canon, dcanon) {
			return "", errkind.New(errkind.SecurityError, fmt.Sprintf("path is within denied_paths: %s", denied))
		}
	}

	if len(c.cfg.AllowedPaths) == 0 {
		return "", errkind.New(errkind.SecurityError, "allowed_paths is empty")
	}

	for _, allowed := range c.cfg.AllowedPaths {
		acanon, aerr := canonicalize(allowed)
		if aerr != nil {
			continue
		}
		if isDescendantOrEqual(canon, acanon) {
			return canon, nil
		}
	}

	return "", errkind.New(errkind.SecurityError, "path is outside allowed_paths")
}

// canonicalize resolves path to an absolute, symlink-free-as-if-normalized
// form. When the path (or a trailing component) doesn't exist yet,
// symlink resolution is skipped and a lexical Clean is used instead —
// still enough to collapse ".." traversal attempts textually.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", err
	}
	return resolved, nil
}

// isDescendantOrEqual reports whether target is base or lies under base,
// respecting path segment boundaries: "/allow/foo" is not a descendant of
// "/all".
func isDescendantOrEqual(target, base string) bool {
	target = filepath.Clean(target)
	base = filepath.Clean(base)
	if target == base {
		return true
	}
	if !strings.HasSuffix(base, string(filepath.Separator)) {
		base += string(filepath.Separator)
	}
	return strings.HasPrefix(target, base)
}

func encode(data []byte, encoding string) (string, error) {
	switch encoding {
	case "utf-8", "utf8":
		return string(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
