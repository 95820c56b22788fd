// Package httpapi exposes the gateway harness over HTTP: tool discovery,
// invocation, a health check, and a server-sent events stream, routed
// with go-chi.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/coreflux/toolgateway/internal/errkind"
	"github.com/coreflux/toolgateway/internal/gateway"
	"go.uber.org/zap"
)

// Server wires a chi.Mux over a Harness.
type Server struct {
	router  *chi.Mux
	harness *gateway.Harness
	logger  *zap.Logger
}

// New builds a Server and installs its routes.
func New(harness *gateway.Harness, logger *zap.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		harness: harness,
		logger:  logger.Named("http-api"),
	}
	s.routes()
	return s
}

// Handler exposes the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/tools", s.listTools)
	r.Post("/tools/{name}", s.invokeTool)
	r.Get("/events", s.streamEvents)
}

// streamEvents opens a Server-Sent Events stream and emits a single
// "connected" event carrying the current tool list, per the discovery
// contract's SSE variant. The connection stays open until the client
// disconnects; no further events are produced by this gateway.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	payload, err := json.Marshal(map[string]any{"tools": s.harness.ListTools()})
	if err != nil {
		http.Error(w, "encode tool list", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", payload)
	flusher.Flush()

	<-r.Context().Done()
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.harness.ListTools()})
}

func (s *Server) invokeTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var args map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeJSON(w, errkind.HTTPStatus(errkind.ValidationError), map[string]any{
				"success": false,
				"code":    string(errkind.ValidationError),
				"message": "request body must be a JSON object",
			})
			return
		}
	}

	ctx := gateway.WithTraceID(r.Context(), r.Header.Get("X-Trace-ID"))
	result := s.harness.Invoke(ctx, name, args)
	if result.Success {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"request_id": result.RequestID,
			"value":      result.Value,
		})
		return
	}

	status := errkind.HTTPStatus(errkind.Kind(result.Code))
	writeJSON(w, status, map[string]any{
		"success":    false,
		"request_id": result.RequestID,
		"code":       result.Code,
		"message":    result.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
