// Package httpapi provides the optional HTTP capabilities/health surface
// for operators without an MCP client.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/rust-mcp/internal/config"
	"github.com/example/rust-mcp/internal/inspection"
)

var version = "dev"

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the optional read-only HTTP surface.
type Server struct {
	cfg        *config.Config
	inspection *inspection.Context
	router     chi.Router
}

// NewServer creates a new HTTP server around a shared inspection context.
func NewServer(cfg *config.Config, ictx *inspection.Context) *Server {
	s := &Server{cfg: cfg, inspection: ictx}
	s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * 1000000000)) // 60 seconds

	allowedOrigins := []string(s.cfg.Security.AllowedOrigins)
	if s.cfg.Security.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if s.cfg.Security.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/capabilities", s.handleCapabilities)

	s.router = r
}

func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.Security.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey != s.cfg.Security.APIKey {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version: version,
		Service: "rust-mcp",
	})
}

// handleCapabilities mirrors the MCP "capabilities" tool's output as a
// read-only JSON view for operators without an MCP client.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	gatingOverride := r.URL.Query().Get("gating_mode")
	ictx := s.inspection
	if gatingOverride != "" {
		ictx = s.inspection.WithGatingMode(inspection.ParseGatingMode(gatingOverride))
	}

	var views []string
	for _, v := range inspection.CuratedViews() {
		if inspection.IsViewAdvertised(v, ictx.ToolchainChannel(), ictx.GatingMode()) {
			views = append(views, v.Name)
		}
	}

	var diagnostics []string
	if ictx.GatingMode() == inspection.Lenient && !ictx.ToolchainChannel().IsNightlyLike() {
		for _, v := range inspection.CuratedViews() {
			if v.RequiresNightly {
				diagnostics = append(diagnostics, fmt.Sprintf("View '%s' requires nightly", v.Name))
			}
		}
	}

	caps := inspection.Capabilities{
		ToolchainChannel: ictx.ToolchainChannel(),
		GatingMode:       ictx.GatingMode(),
		Views:            views,
		Limits:           ictx.Limits(),
		Diagnostics:      diagnostics,
		Provenance:       ictx.Provenance(),
	}

	writeJSON(w, http.StatusOK, caps)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
