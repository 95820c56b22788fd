// Package gateway implements the bounded execution harness: the pipeline
// that turns a tool name and raw arguments into a schema-validated,
// policy-enforced, deadline-bounded, size-checked, audited outcome.
// Mirrors internal/engine/gateway.go's ProcessAction pipeline, stripped of
// the kill-switch/quarantine/sandbox branches that have no equivalent
// here.
package gateway

import "github.com/coreflux/toolgateway/internal/errkind"

// Result is the tagged success/failure outcome of one Invoke call. Exactly
// one of Value or (Code, Message) is populated; RequestID is always set.
type Result struct {
	Success   bool
	RequestID string
	Value     any
	Code      string
	Message   string
}

func success(requestID string, value any) Result {
	return Result{Success: true, RequestID: requestID, Value: value}
}

func failure(requestID string, kind errkind.Kind, message string) Result {
	return Result{Success: false, RequestID: requestID, Code: string(kind), Message: message}
}
