// Package stdio implements a newline-delimited JSON framing over an
// arbitrary io.Reader/io.Writer pair, for callers that spawn the gateway
// as a subprocess rather than dialing a network listener.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/coreflux/toolgateway/internal/gateway"
	"go.uber.org/zap"
)

// Request is one framed line of input: either a list-tools request (Tool
// empty) or an invoke request.
type Request struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Response is one framed line of output, mirroring gateway.Result plus the
// caller-supplied request id for correlation.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Tools   any    `json:"tools,omitempty"`
}

// Server reads one JSON request per line from r and writes one JSON
// response per line to w, until r is exhausted or ctx is canceled.
type Server struct {
	harness *gateway.Harness
	logger  *zap.Logger
}

// New constructs a Server over harness.
func New(harness *gateway.Harness, logger *zap.Logger) *Server {
	return &Server{harness: harness, logger: logger.Named("stdio")}
}

// Serve blocks processing requests until ctx is canceled or r returns EOF.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("malformed request line", zap.Error(err))
			_ = enc.Encode(Response{Success: false, Code: "validation_error", Message: fmt.Sprintf("malformed json: %v", err)})
			continue
		}

		resp := s.handle(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	if req.Tool == "" {
		return Response{ID: req.ID, Success: true, Tools: s.harness.ListTools()}
	}

	tracedCtx := gateway.WithTraceID(ctx, req.ID)
	result := s.harness.Invoke(tracedCtx, req.Tool, req.Args)
	return Response{
		ID:      req.ID,
		Success: result.Success,
		Value:   result.Value,
		Code:    result.Code,
		Message: result.Message,
	}
}
