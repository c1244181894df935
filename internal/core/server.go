package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Service is anything that mounts routes on the server's router. The
// gateway controller implements it.
type Service interface {
	RegisterRoutes(r chi.Router)
}

// Server is the gateway's HTTP server shell: middleware stack, health
// endpoint, and the mounted service routes.
type Server struct {
	config *Config
	logger *zap.Logger
	router chi.Router
}

// NewServer creates a server and mounts each service at the root.
func NewServer(cfg *Config, logger *zap.Logger, services ...Service) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
	}
	s.setupRouter(services)
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter(services []Service) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery(s.logger))
	r.Use(RequestLogger(s.logger))
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimiter := NewRateLimiter(100, time.Minute)
	r.Use(rateLimiter.Limit)

	// Health check
	r.Get("/health", s.handleHealth)

	for _, svc := range services {
		svc.RegisterRoutes(r)
	}

	s.router = r
}

// Health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Environment: s.config.Environment,
	})
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
