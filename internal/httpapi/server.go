// Package httpapi is the HTTP adapter: bearer-token auth, JSON
// envelopes, and SSE streaming over the core packages. It holds no
// domain logic; every decision of consequence happens in the packages
// it calls into.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/authz"
	"github.com/havenlab/haven/chat"
	"github.com/havenlab/haven/index"
	"github.com/havenlab/haven/ingest"
	"github.com/havenlab/haven/vault"
	"github.com/havenlab/haven/vectorize"
)

// DefaultMaxBody bounds JSON request bodies.
const DefaultMaxBody = 1 << 20

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithDevMode relaxes auth rate limits and surfaces error details.
func WithDevMode(dev bool) Option {
	return func(s *Server) { s.dev = dev }
}

// WithTeams wires the team store for team and membership endpoints.
func WithTeams(ts haven.TeamStore) Option {
	return func(s *Server) { s.teams = ts }
}

// WithAudit wires the audit store for the audit listing endpoint.
func WithAudit(as haven.AuditStore) Option {
	return func(s *Server) { s.audit = as }
}

// WithVault wires the vault service.
func WithVault(v *vault.Vault) Option {
	return func(s *Server) { s.vault = v }
}

// WithIngestor wires the upload pipeline.
func WithIngestor(in *ingest.Ingestor) Option {
	return func(s *Server) { s.ingest = in }
}

// WithIndex wires the semantic index for the search endpoint.
func WithIndex(ix *index.Index) Option {
	return func(s *Server) { s.index = ix }
}

// WithEngine wires the vectorization engine for the stats endpoint.
func WithEngine(e *vectorize.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithProvider wires the upstream provider for model listing.
func WithProvider(p haven.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithMaxBody overrides the JSON body size cap.
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// Server is the HTTP adapter over the core services.
type Server struct {
	store    haven.MemoryStore
	fabric   *authz.Fabric
	chat     *chat.Orchestrator
	teams    haven.TeamStore
	audit    haven.AuditStore
	vault    *vault.Vault
	ingest   *ingest.Ingestor
	index    *index.Index
	engine   *vectorize.Engine
	provider haven.Provider
	registry *registry
	logger   *slog.Logger
	dev      bool
	maxBody  int64
}

// New creates a Server over the memory store, authorization fabric, and
// chat orchestrator. Remaining collaborators attach through options;
// endpoints without their collaborator return NOT_FOUND.
func New(store haven.MemoryStore, fabric *authz.Fabric, orch *chat.Orchestrator, opts ...Option) *Server {
	s := &Server{
		store:    store,
		fabric:   fabric,
		chat:     orch,
		registry: newRegistry(),
		logger:   nopLogger,
		maxBody:  DefaultMaxBody,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)

	mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("PATCH /api/sessions/{id}", s.requireAuth(s.handleRenameSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.requireAuth(s.handleMessages))
	mux.HandleFunc("GET /api/sessions/{id}/summary", s.requireAuth(s.handleSummary))
	mux.HandleFunc("POST /api/sessions/{id}/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("POST /api/sessions/{id}/upload", s.requireAuth(s.handleUpload))

	mux.HandleFunc("GET /api/search", s.requireAuth(s.handleSearch))
	mux.HandleFunc("GET /api/models", s.requireAuth(s.handleModels))
	mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))

	mux.HandleFunc("POST /api/teams", s.requireAuth(s.handleCreateTeam))
	mux.HandleFunc("GET /api/teams/{id}/members", s.requireAuth(s.handleListMembers))
	mux.HandleFunc("POST /api/teams/{id}/invite", s.requireAuth(s.handleGenerateInvite))
	mux.HandleFunc("POST /api/invites/redeem", s.requireAuth(s.handleRedeemInvite))
	mux.HandleFunc("POST /api/teams/{id}/promote", s.requireAuth(s.handlePromote))
	mux.HandleFunc("POST /api/teams/{id}/promotions/delayed", s.requireAuth(s.handleScheduleDelayed))
	mux.HandleFunc("POST /api/teams/{id}/temp-promotion", s.requireAuth(s.handleTempPromotion))
	mux.HandleFunc("POST /api/teams/{id}/temp-promotion/approve", s.requireAuth(s.handleApproveTemp))
	mux.HandleFunc("POST /api/teams/{id}/temp-promotion/revert", s.requireAuth(s.handleRevertTemp))
	mux.HandleFunc("POST /api/teams/{id}/grants", s.requireAuth(s.handleAddGrant))
	mux.HandleFunc("DELETE /api/teams/{id}/grants", s.requireAuth(s.handleRemoveGrant))

	mux.HandleFunc("GET /api/audit", s.requireAuth(s.handleAudit))

	mux.HandleFunc("POST /api/teams/{id}/vault", s.requireAuth(s.handleVaultPut))
	mux.HandleFunc("GET /api/teams/{id}/vault", s.requireAuth(s.handleVaultList))
	mux.HandleFunc("POST /api/teams/{id}/vault/{item}/open", s.requireAuth(s.handleVaultOpen))
	mux.HandleFunc("DELETE /api/teams/{id}/vault/{item}", s.requireAuth(s.handleVaultDelete))

	var h http.Handler = mux
	h = s.accessLog(h)
	h = s.recoverPanic(h)
	return h
}

// NewHTTPServer wraps the handler in an http.Server. WriteTimeout stays
// zero so SSE streams are not cut off.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

// allowRate runs one fabric rate check and writes the refusal when the
// budget is exhausted. Returns true when the request may proceed.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, key, userID, action string, limit authz.Limit) bool {
	d, err := s.fabric.AllowRate(r.Context(), key, userID, action, limit.Max, limit.Window)
	if err != nil {
		s.writeErr(w, err)
		return false
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeRateLimited, d.Reason).
			WithSuggestion("wait before retrying"))
		return false
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("http: panic recovered", "panic", rec, "stack", string(debug.Stack()))
				s.writeErr(w, haven.E(haven.CodeInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
