package policy

import (
	"fmt"
	"sort"

	"github.com/coreflux/toolgateway/internal/errkind"
)

// Decision is the outcome of one Decide call.
type Decision struct {
	Allowed  bool
	Reason   string
	Envelope Envelope
}

// Engine computes allow/deny decisions and resource envelopes from a static
// Config plus the tool name and validated arguments of one invocation.
type Engine struct {
	cfg Config
}

// NewEngine wraps cfg. cfg is treated as immutable for the engine's lifetime.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Decide implements the decision order of spec §4.2, stopping at the first
// rule that determines the outcome. The envelope is always computed,
// regardless of the decision.
func (e *Engine) Decide(tool string, args map[string]any) Decision {
	envelope := e.envelopeFor(tool)

	if _, denied := e.cfg.DenyTools[tool]; denied {
		return Decision{Allowed: false, Reason: fmt.Sprintf("deny_tools: %s", tool), Envelope: envelope}
	}

	if tp, ok := e.cfg.PerTool[tool]; ok {
		if tp.Allow != nil && !*tp.Allow {
			return Decision{Allowed: false, Reason: "per_tool denied", Envelope: envelope}
		}

		if len(tp.ArgAllowlist) > 0 {
			if reason, violated := checkArgAllowlist(tp.ArgAllowlist, args); violated {
				return Decision{Allowed: false, Reason: reason, Envelope: envelope}
			}
		}

		if tp.Allow != nil && *tp.Allow {
			return Decision{Allowed: true, Reason: "per_tool allow", Envelope: envelope}
		}
	}

	if _, allowed := e.cfg.AllowTools[tool]; allowed {
		return Decision{Allowed: true, Reason: fmt.Sprintf("allow_tools: %s", tool), Envelope: envelope}
	}

	if e.cfg.DefaultDeny {
		return Decision{Allowed: false, Reason: "default_deny", Envelope: envelope}
	}

	return Decision{Allowed: true, Reason: "default allow", Envelope: envelope}
}

// Enforce is a convenience over Decide that raises a policy_denied
// *errkind.Error on deny and returns the envelope on allow.
func (e *Engine) Enforce(tool string, args map[string]any) (Envelope, error) {
	d := e.Decide(tool, args)
	if !d.Allowed {
		return d.Envelope, errkind.New(errkind.PolicyDenied, d.Reason)
	}
	return d.Envelope, nil
}

func (e *Engine) envelopeFor(tool string) Envelope {
	env := Envelope{TimeoutMs: e.cfg.GlobalTimeoutMs, MaxBytes: e.cfg.GlobalMaxBytes}
	if tp, ok := e.cfg.PerTool[tool]; ok {
		if tp.TimeoutMs != nil {
			env.TimeoutMs = *tp.TimeoutMs
		}
		if tp.MaxBytes != nil {
			env.MaxBytes = *tp.MaxBytes
		}
	}
	return env
}

// checkArgAllowlist evaluates each supplied argument against the
// allowlist. Keys present in the allowlist but absent from args are not
// required — the allowlist restricts, it does not schema-check.
func checkArgAllowlist(allowlist map[string]AllowlistValue, args map[string]any) (string, bool) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic reason text across runs

	for _, key := range keys {
		value := args[key]
		entry, ok := allowlist[key]
		if !ok {
			return fmt.Sprintf("arg not in allowlist: %s", key), true
		}
		if !entry.Matches(value) {
			return fmt.Sprintf("arg %s must be %s", key, entry.Describe()), true
		}
	}
	return "", false
}
