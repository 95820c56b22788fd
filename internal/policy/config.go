// Package policy implements the allow/deny decision engine and its static
// configuration: plain maps with no locking, never written after the
// engine is built and immutable for the lifetime of the process. Dynamic
// reload is out of scope.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// AllowlistValue is the tagged union described in spec §3 for one key of a
// per-tool arg_allowlist.
type AllowlistValue struct {
	any     bool
	values  []any
	pattern *regexp.Regexp
	literal any
	isLit   bool
}

// AllowAny accepts any value for the key.
func AllowAny() AllowlistValue { return AllowlistValue{any: true} }

// AllowValues accepts only the listed literal values.
func AllowValues(values ...any) AllowlistValue { return AllowlistValue{values: values} }

// AllowRegex accepts a string value matching pattern.
func AllowRegex(pattern string) (AllowlistValue, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return AllowlistValue{}, fmt.Errorf("invalid arg_allowlist regex %q: %w", pattern, err)
	}
	return AllowlistValue{pattern: re}, nil
}

// AllowLiteral accepts only values equal to v.
func AllowLiteral(v any) AllowlistValue { return AllowlistValue{literal: v, isLit: true} }

// ParseAllowlistValue interprets a raw configuration value (as decoded from
// YAML/JSON) per spec §3's rules: true is any-value, a list is a membership
// check, a "regex:"-prefixed string is a pattern, anything else is an exact
// literal.
func ParseAllowlistValue(raw any) (AllowlistValue, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return AllowAny(), nil
		}
		return AllowLiteral(false), nil
	case []any:
		return AllowValues(v...), nil
	case string:
		if strings.HasPrefix(v, "regex:") {
			return AllowRegex(strings.TrimPrefix(v, "regex:"))
		}
		return AllowLiteral(v), nil
	default:
		return AllowLiteral(v), nil
	}
}

// Matches reports whether value satisfies the allowlist entry.
func (a AllowlistValue) Matches(value any) bool {
	if a.any {
		return true
	}
	if a.pattern != nil {
		s, ok := value.(string)
		return ok && a.pattern.MatchString(s)
	}
	if a.values != nil {
		for _, v := range a.values {
			if literalEqual(v, value) {
				return true
			}
		}
		return false
	}
	return literalEqual(a.literal, value)
}

// Describe renders a human-readable description of expected values, for
// deny reasons.
func (a AllowlistValue) Describe() string {
	switch {
	case a.any:
		return "any value"
	case a.pattern != nil:
		return fmt.Sprintf("value matching %s", a.pattern.String())
	case a.values != nil:
		return fmt.Sprintf("one of %v", a.values)
	default:
		return fmt.Sprintf("%v", a.literal)
	}
}

func literalEqual(a, b any) bool {
	// JSON-decoded numbers are float64; compare numeric types loosely.
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ToolPolicy is the value side of Config.PerTool.
type ToolPolicy struct {
	// Allow is a tristate: nil is unset.
	Allow         *bool
	TimeoutMs     *int64
	MaxBytes      *int64
	ArgAllowlist  map[string]AllowlistValue
}

// Config is the static policy configuration described in spec §3.
type Config struct {
	DefaultDeny     bool
	AllowTools      map[string]struct{}
	DenyTools       map[string]struct{}
	PerTool         map[string]ToolPolicy
	GlobalTimeoutMs int64
	GlobalMaxBytes  int64
}

// Envelope is the resource envelope in effect for one invocation.
type Envelope struct {
	TimeoutMs int64
	MaxBytes  int64
}
