package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreflux/toolgateway/internal/audit"
	"github.com/coreflux/toolgateway/internal/errkind"
	"github.com/coreflux/toolgateway/internal/policy"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/schema"
)

// Harness is the bounded execution pipeline: lookup, validate, enforce
// policy, execute within a deadline, check result size, audit exactly
// once. It owns no mutable state beyond its collaborators' own.
type Harness struct {
	registry *registry.Registry
	policy   *policy.Engine
	auditor  *audit.Logger
	actor    string
	metrics  *Metrics
}

// New constructs a Harness. actor is the configured principal string
// recorded on every audit event. There is no caller authentication, so
// this is static rather than derived per-request.
func New(reg *registry.Registry, eng *policy.Engine, auditor *audit.Logger, actor string, metrics *Metrics) *Harness {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Harness{registry: reg, policy: eng, auditor: auditor, actor: actor, metrics: metrics}
}

// ListTools returns discovery metadata for every registered tool.
func (h *Harness) ListTools() []registry.Metadata {
	return h.registry.Metadata()
}

// Invoke runs the full pipeline for one call, producing exactly one
// audit event and exactly one Result.
func (h *Harness) Invoke(ctx context.Context, toolName string, rawArgs map[string]any) Result {
	start := time.Now()
	auditCtx := h.auditor.CreateContext(toolName, h.actor, TraceID(ctx), rawArgs)
	requestID := auditCtx.RequestID

	observe := func(decision string) {
		h.metrics.InvocationsTotal.WithLabelValues(toolName, decision).Inc()
		h.metrics.InvocationDuration.WithLabelValues(toolName, decision).Observe(time.Since(start).Seconds())
	}

	tool, ok := h.registry.Lookup(toolName)
	if !ok {
		h.auditor.LogDenied(auditCtx, "tool_not_found")
		observe(audit.DecisionDeny)
		return failure(requestID, errkind.ToolNotFound, fmt.Sprintf("tool not found: %s", toolName))
	}

	parsed, verr := schema.Parse(tool.InputSchema, rawArgs)
	if verr != nil {
		reason := fmt.Sprintf("validation_failed: %s: %s", verr.Path, verr.Message)
		h.auditor.LogDenied(auditCtx, reason)
		observe(audit.DecisionDeny)
		return failure(requestID, errkind.ValidationError, verr.Error())
	}
	args, _ := parsed.(map[string]any)

	envelope, enforceErr := h.policy.Enforce(toolName, args)
	if enforceErr != nil {
		e, _ := errkind.As(enforceErr)
		h.auditor.LogDenied(auditCtx, e.Message)
		observe(audit.DecisionDeny)
		h.metrics.ErrorsTotal.WithLabelValues(string(e.Kind)).Inc()
		return failure(requestID, e.Kind, e.Message)
	}

	result, execErr := h.boundedExecute(ctx, tool.Handler, args, envelope)
	if execErr != nil {
		kind, msg := classify(execErr)
		h.auditor.LogError(auditCtx, fmt.Sprintf("error: %s", kind), string(kind))
		observe(audit.DecisionAllow)
		h.metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()
		return failure(requestID, kind, msg)
	}

	encoded, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		h.auditor.LogError(auditCtx, "error: internal_error", string(errkind.InternalError))
		observe(audit.DecisionAllow)
		h.metrics.ErrorsTotal.WithLabelValues(string(errkind.InternalError)).Inc()
		return failure(requestID, errkind.InternalError, fmt.Sprintf("result not JSON-encodable: %v", marshalErr))
	}
	if int64(len(encoded)) > envelope.MaxBytes {
		h.auditor.LogError(auditCtx, "error: max_bytes_exceeded", string(errkind.MaxBytesExceeded))
		observe(audit.DecisionAllow)
		h.metrics.ErrorsTotal.WithLabelValues(string(errkind.MaxBytesExceeded)).Inc()
		return failure(requestID, errkind.MaxBytesExceeded, "result exceeds max_bytes")
	}

	h.auditor.LogSuccess(auditCtx, result)
	observe(audit.DecisionAllow)
	return success(requestID, result)
}

// boundedExecute runs handler with a deadline derived from envelope and
// recovers panics into internal_error, per the "untyped failure or panic
// classifies as internal_error" rule. If the deadline elapses first, the
// handler's eventual result (if any) is discarded — the done channel is
// buffered so the abandoned goroutine never blocks on send.
func (h *Harness) boundedExecute(ctx context.Context, handler registry.Handler, args map[string]any, envelope policy.Envelope) (any, error) {
	deadline := time.Now().Add(time.Duration(envelope.TimeoutMs) * time.Millisecond)
	execCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, errkind.New(errkind.InternalError, fmt.Sprintf("handler panic: %v", r))}
			}
		}()
		res, err := handler(execCtx, args)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-execCtx.Done():
		return nil, errkind.New(errkind.Timeout, "execution deadline exceeded")
	}
}

// classify maps a handler error to its errkind.Kind and message, wrapping
// untyped errors as internal_error with their original message preserved.
func classify(err error) (errkind.Kind, string) {
	if e, ok := errkind.As(err); ok {
		return e.Kind, e.Message
	}
	return errkind.InternalError, err.Error()
}
