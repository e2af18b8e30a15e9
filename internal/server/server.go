package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/remote"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit enables per-client limiting when non-nil.
	RateLimit *types.RateLimitConfig
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8787,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// ConfigFrom builds a server Config from the server section of the
// configuration file.
func ConfigFrom(sc *types.ServerConfig) *Config {
	cfg := DefaultConfig()
	if sc == nil {
		return cfg
	}
	if sc.Port > 0 {
		cfg.Port = sc.Port
	}
	if sc.EnableCORS != nil {
		cfg.EnableCORS = *sc.EnableCORS
	}
	if sc.RateLimit != nil && sc.RateLimit.RPS > 0 {
		cfg.RateLimit = sc.RateLimit
	}
	return cfg
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	sessions *session.Service
	bus      *event.Bus
	limiter  *rateLimiter
}

// New creates a new Server instance.
func New(cfg *Config, sessions *session.Service, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		sessions: sessions,
		bus:      bus,
	}
	if cfg.RateLimit != nil {
		s.limiter = newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", remote.SessionHeader},
			ExposedHeaders:   []string{"X-Request-ID", remote.SessionHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// After RealIP so clients behind a proxy are keyed separately.
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
