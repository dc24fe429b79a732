package facade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/agentserver/internal/obs"
	"github.com/haasonsaas/agentserver/internal/taskexec"
	"github.com/haasonsaas/agentserver/internal/toolregistry"
)

// ToolCatalog is the subset of toolregistry.Registry the façade needs,
// declared locally so this package depends on behavior, not the registry's
// build-time generation internals.
type ToolCatalog interface {
	List() []toolregistry.ToolDescriptor
	Describe(name string) (toolregistry.ToolDescriptor, bool)
	Resolve(name string) (toolregistry.Tool, bool)
	ValidateArguments(name string, args json.RawMessage) error
}

// TaskRunner is the subset of taskexec.Executor the façade needs.
type TaskRunner interface {
	Submit(toolName string, args json.RawMessage, requesterID string, timeoutSeconds, maxRetries int) (string, error)
	Status(taskID string) (*taskexec.Task, bool, error)
	Cancel(taskID string) error
	Subscribe(taskID string) <-chan taskexec.ProgressEvent
	ActiveCount() int
	QueueDepth() int
}

// AuthMiddleware wraps a handler with request authentication. Not part of
// the core per spec.md §4.7 ("Auth. Not part of the core; treated as a
// middleware that the façade accepts") — callers supply their own.
type AuthMiddleware func(http.Handler) http.Handler

// ApprovalHook is consulted before every tools/call dispatch, with the
// tool's risk class passed in, giving an operator-supplied policy the
// chance to reject the call before it reaches a worker. A nil hook
// approves everything.
type ApprovalHook func(ctx context.Context, toolName string, riskClass toolregistry.RiskClass, args json.RawMessage) error

// Config wires the façade's dependencies, grounded on the teacher's
// web.Config aggregation of collaborators into one struct passed to NewHandler.
type Config struct {
	Catalog ToolCatalog
	Tasks   TaskRunner

	AgentName        string
	AgentDescription string
	AgentVersion     string
	PublicURL        string

	SyncCallTimeout      time.Duration
	DefaultTaskTimeout   time.Duration
	DefaultTaskMaxRetry  int

	Auth     AuthMiddleware
	Approval ApprovalHook
	Logger   *slog.Logger
	Metrics  *obs.Metrics
}

// Server is the HTTP entry point for C7, bundling the JSON-RPC, agent-card,
// and SSE handlers behind one mux.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// NewServer builds a Server and wires its routes.
func NewServer(cfg Config) *Server {
	if cfg.AgentName == "" {
		cfg.AgentName = "agentserver"
	}
	if cfg.AgentVersion == "" {
		cfg.AgentVersion = "0.1.0"
	}
	if cfg.SyncCallTimeout <= 0 {
		cfg.SyncCallTimeout = 30 * time.Second
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = 300 * time.Second
	}
	if cfg.DefaultTaskMaxRetry < 0 {
		cfg.DefaultTaskMaxRetry = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1", s.handleRPC)
	s.mux.HandleFunc("GET /.well-known/agent.json", s.handleAgentCard)
	s.mux.HandleFunc("GET /events/tasks/{taskId}", s.handleTaskEvents)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Mount returns the handler with middleware applied, grounded on the
// teacher's web.Handler.Mount (auth middleware wraps logging wraps mux).
func (s *Server) Mount() http.Handler {
	var handler http.Handler = loggingMiddleware(s.cfg.Logger)(s.mux)
	if s.cfg.Auth != nil {
		handler = s.cfg.Auth(handler)
	}
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
