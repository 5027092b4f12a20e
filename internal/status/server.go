// Package status exposes a small local HTTP API over the ledger so the
// daemon can be inspected while it runs.
package status

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/papermes/scanner/internal/ledger"
	"github.com/papermes/scanner/internal/observability"
	"github.com/papermes/scanner/internal/pipeline"
)

// LoopStatus is the slice of the scan loop the status API needs.
type LoopStatus interface {
	State() pipeline.State
}

// Server handles HTTP requests for the status API
type Server struct {
	db        ledger.DB
	loop      LoopStatus
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(db ledger.DB, loop LoopStatus, metrics *observability.Metrics, basicAuth BasicAuth) *Server {
	return NewServerWithMux(db, loop, metrics, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(db ledger.DB, loop LoopStatus, metrics *observability.Metrics, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		db:        db,
		loop:      loop,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	if metrics != nil {
		metrics.RegisterHandlers(mux)
	}
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Papermes Scanner"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/records/{id}", s.requireAuth(s.handleGetRecord))
	s.mux.HandleFunc("GET /api/records", s.requireAuth(s.handleListRecords))
	s.mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting status server", "address", addr)
	return http.ListenAndServe(addr, s)
}

// ServeHTTP serves every request through the CORS middleware, including
// preflight OPTIONS requests the mux would otherwise reject
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}
