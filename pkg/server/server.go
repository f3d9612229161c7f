// Package server exposes the chat handler over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"chatagent/pkg/agent/middleware/metrics"
	"chatagent/pkg/chat"
	"chatagent/pkg/contextmgr"
	"chatagent/pkg/logx"
	"chatagent/pkg/version"
)

// SessionHeader carries the conversation key on requests and responses.
const SessionHeader = "X-Session-ID"

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 5 * time.Second
	readHeaderTimeout   = 10 * time.Second
	outcomeBadRequest   = "bad_request"
	outcomeUnavailable  = "unavailable"
)

// ChatHandler answers one chat message.
type ChatHandler interface {
	Handle(ctx context.Context, sessionID, userInput string) (chat.Reply, error)
}

// SessionStore is the subset of the session store the admin routes use.
type SessionStore interface {
	IDs() []string
	Get(id string) (*contextmgr.Window, error)
	Delete(id string) error
}

// Options configure the HTTP surface.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Options struct {
	// ChatRoutes all share the chat handler.
	ChatRoutes []string
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Recorder counts chat requests per route and outcome.
	Recorder metrics.Recorder
	// AdminRoutes serves /sessions and /logs. They name and expose other
	// callers' conversations, so they are off unless set, and never carry
	// CORS headers.
	AdminRoutes bool
}

// ChatRequest is the body of a chat POST.
type ChatRequest struct {
	UserInput *string `json:"user_input"`
	SessionID string  `json:"session_id,omitempty"`
}

// ChatResponse is the body returned by chat routes.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// SessionInfo describes one live session in GET /sessions.
type SessionInfo struct {
	ID      string             `json:"id"`
	Summary contextmgr.Summary `json:"summary"`
}

// Server routes HTTP requests to the chat handler.
type Server struct {
	chat     ChatHandler
	sessions SessionStore
	opts     Options
	logger   *logx.Logger
}

// New creates a server. sessions may be nil, which disables the session routes.
// They are only served when opts.AdminRoutes is set.
func New(handler ChatHandler, sessions SessionStore, opts Options, logger *logx.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(opts.ChatRoutes) == 0 {
		opts.ChatRoutes = []string{"/chat"}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if logger == nil {
		logger = logx.NewLogger("server")
	}
	return &Server{chat: handler, sessions: sessions, opts: opts, logger: logger}
}

// RegisterRoutes registers all HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.registerPublic(mux)
	s.registerAdmin(mux)
}

func (s *Server) registerPublic(mux *http.ServeMux) {
	for _, route := range s.opts.ChatRoutes {
		mux.HandleFunc(route, s.chatRoute(route))
	}
	mux.HandleFunc("/health", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		mux.Handle("/metrics", s.opts.MetricsHandler)
	}
}

func (s *Server) registerAdmin(mux *http.ServeMux) {
	if !s.opts.AdminRoutes {
		return
	}
	mux.HandleFunc("/logs", s.handleLogs)
	if s.sessions != nil {
		mux.HandleFunc("/sessions", s.handleSessions)
		mux.HandleFunc("/sessions/{id}", s.handleSession)
	}
}

// Handler returns the routed mux. Public routes get the permissive CORS
// policy; admin routes are same-origin only.
func (s *Server) Handler() http.Handler {
	public := http.NewServeMux()
	s.registerPublic(public)
	if !s.opts.AdminRoutes {
		return CORS(public)
	}

	mux := http.NewServeMux()
	mux.Handle("/", CORS(public))
	s.registerAdmin(mux)
	return mux
}

// chatRoute returns the POST handler bound to route for metrics labels.
func (s *Server) chatRoute(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.opts.Recorder.ObserveChatRequest(route, outcomeBadRequest)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if req.UserInput == nil || strings.TrimSpace(*req.UserInput) == "" {
			s.opts.Recorder.ObserveChatRequest(route, outcomeBadRequest)
			writeError(w, http.StatusBadRequest, "user_input is required")
			return
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = strings.TrimSpace(r.Header.Get(SessionHeader))
		}

		reply, err := s.chat.Handle(r.Context(), sessionID, *req.UserInput)
		if err != nil {
			s.logger.Warn("%s: %v", route, err)
			s.opts.Recorder.ObserveChatRequest(route, outcomeUnavailable)
			writeError(w, http.StatusServiceUnavailable, "conversation is unavailable, try again")
			return
		}

		s.opts.Recorder.ObserveChatRequest(route, string(reply.Outcome))
		w.Header().Set(SessionHeader, reply.SessionID)
		writeJSON(w, http.StatusOK, ChatResponse{Response: reply.Response, SessionID: reply.SessionID})
	}
}

// handleHealth implements GET /health. It never checks dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("X-Chatagent-Version", version.Version)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogs implements GET /logs over the in-memory log buffer.
// Optional query parameters: domain, and since as RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter (use RFC3339)")
			return
		}
		since = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logx.GetRecentLogEntries(query.Get("domain"), since)})
}

// handleSessions implements GET /sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ids := s.sessions.IDs()
	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		window, err := s.sessions.Get(id)
		if err != nil {
			continue // expired between IDs and Get
		}
		infos = append(infos, SessionInfo{ID: id, Summary: window.Summarize()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// handleSession implements GET and DELETE /sessions/{id}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		window, err := s.sessions.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SessionInfo{ID: id, Summary: window.Summarize()})
	case http.MethodDelete:
		if err := s.sessions.Delete(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Info("session %s reset", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully within five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting chat server on %s (routes: %s)", ln.Addr(), strings.Join(s.opts.ChatRoutes, ", "))
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// The parent context is already canceled, so shut down on a fresh one.
	s.logger.Info("Shutting down chat server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
