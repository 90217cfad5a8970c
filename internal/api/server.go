// Package api provides the workflowd HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/workflowshelf/workflowshelf/internal/auth"
	"github.com/workflowshelf/workflowshelf/internal/entitlements"
	"github.com/workflowshelf/workflowshelf/internal/events"
	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/internal/ratelimit"
	"github.com/workflowshelf/workflowshelf/internal/sources"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// RemoteSource is the cloud catalog: a Source with a member view and a
// purgeable cache.
type RemoteSource interface {
	sources.Source
	GetMember(ctx context.Context, p string) (json.RawMessage, error)
	Purge(ctx context.Context) error
}

// Options selects optional behavior.
type Options struct {
	CloudRequiresAuth bool
	MemberCatalog     bool
}

// Deps bundles the server's collaborators. Remote may be nil when no remote
// backend is configured.
type Deps struct {
	Local        sources.Source
	Remote       RemoteSource
	Auth         *auth.Auth
	Entitlements *entitlements.Evaluator
	Broadcaster  *events.Broadcaster
	Limiter      *ratelimit.Limiter
}

// Server is the HTTP server.
type Server struct {
	local        sources.Source
	remote       RemoteSource
	auth         *auth.Auth
	entitlements *entitlements.Evaluator
	broadcaster  *events.Broadcaster
	limiter      *ratelimit.Limiter
	opts         Options
}

// NewServer creates a new server.
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		local:        deps.Local,
		remote:       deps.Remote,
		auth:         deps.Auth,
		entitlements: deps.Entitlements,
		broadcaster:  deps.Broadcaster,
		limiter:      deps.Limiter,
		opts:         opts,
	}
	if s.entitlements == nil {
		s.entitlements = entitlements.NewEvaluator(nil)
	}
	if s.broadcaster == nil {
		s.broadcaster = events.NewBroadcaster()
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(0)
	}
	return s
}

// Broadcaster returns the event broadcaster used for the SSE stream.
func (s *Server) Broadcaster() *events.Broadcaster {
	return s.broadcaster
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /workflow_manager/list", s.handleLocalList)
	mux.HandleFunc("GET /workflow_manager/workflows/{path...}", s.handleLocalWorkflow)
	mux.HandleFunc("GET /workflow_manager/user/info", s.handleUserInfo)
	mux.HandleFunc("GET /workflow_manager/events", s.handleEvents)

	// Credential endpoints are rate limited per client address
	mux.Handle("POST /workflow_manager/auth/login", s.limiter.Middleware(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /workflow_manager/auth/register", s.limiter.Middleware(http.HandlerFunc(s.handleRegister)))

	// Cloud catalog
	cloud := func(h http.HandlerFunc) http.Handler {
		if s.opts.CloudRequiresAuth {
			return s.auth.Middleware(h)
		}
		return h
	}
	mux.Handle("GET /workflow_manager/remote/list", cloud(s.handleRemoteList))
	mux.Handle("GET /workflow_manager/remote/workflows/{path...}", cloud(s.handleRemoteWorkflow))
	mux.Handle("POST /workflow_manager/remote/cache/clear", cloud(s.handleRemotePurge))

	// Member endpoints
	member := func(h http.HandlerFunc) http.Handler {
		return s.auth.Middleware(h)
	}
	mux.Handle("GET /workflow_manager/user/workflows", member(s.handleMemberList))
	mux.Handle("GET /workflow_manager/user/workflows/{path...}", member(s.handleMemberWorkflow))
	mux.Handle("GET /workflow_manager/user/authorized", member(s.handleAuthorized))
	mux.Handle("POST /workflow_manager/user/check_auth", member(s.handleCheckAuth))

	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"remote": s.remote != nil,
		"auth":   s.auth.Enabled(),
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "Streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("encode response", logging.Err(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, errMsg, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error:   errMsg,
		Message: message,
		Code:    code,
	})
}
