// Package server provides HTTP server for the gatekeeper API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/gatekeeper/app/auth"
)

// Middleware wraps a handler, implemented by auth.Dispatcher and auth.RateLimiter.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// Pinger checks the backing store, implemented by store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegistryWatcher keeps the store in sync with the registry file, implemented by registry.Registry.
type RegistryWatcher interface {
	StartWatcher(ctx context.Context) error
	LastSync() time.Time
}

// Params are the collaborators of the server. Limiter and Registry are optional.
type Params struct {
	Auth     Middleware
	Limiter  Middleware
	Store    Pinger
	Registry RegistryWatcher
}

// Server represents the HTTP server.
type Server struct {
	Params
	cfg     Config
	version string
}

// Config holds server configuration.
type Config struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Version           string
	RegistryHotReload bool // watch registry file for changes and sync

	// limits
	BodySizeLimit  int64 // max request body size in bytes
	RequestsPerSec int64 // max requests per second
}

// New creates a new Server instance.
func New(p Params, cfg Config) (*Server, error) {
	if p.Auth == nil {
		return nil, errors.New("auth middleware is required")
	}
	if p.Store == nil {
		return nil, errors.New("store is required")
	}
	return &Server{Params: p, cfg: cfg, version: cfg.Version}, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	// start registry file watcher if enabled
	if s.Registry != nil && s.cfg.RegistryHotReload {
		if err := s.Registry.StartWatcher(ctx); err != nil {
			return fmt.Errorf("failed to start registry watcher: %w", err)
		}
		log.Printf("[INFO] registry hot-reload enabled")
	}

	// graceful shutdown
	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] shutdown error: %v", err)
		}
	}()

	log.Printf("[DEBUG] started server on %s", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// routes configures and returns the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware (applies to all routes)
	router.Use(
		rest.Recoverer(log.Default()),
		auth.PeerAddr, // allowlist is checked against the tcp peer, must be before RealIP
		rest.RealIP,
		rest.Throttle(s.requestsPerSec()),
		rest.Trace, // sets X-Request-ID used by the error envelope
		rest.SizeLimit(s.bodySizeLimit()),
		rest.AppInfo("gatekeeper", "umputun", s.version),
		rest.Ping,
	)

	// public routes
	router.HandleFunc("GET /status", s.handleStatus)

	// protected api, the dispatcher attaches the authorization context
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(s.Auth.Middleware)
		if s.Limiter != nil {
			api.Use(s.Limiter.Middleware) // keyed by principal, must be after the dispatcher
		}
		api.Handle("GET /{resource}/admin", requireAdmin(http.HandlerFunc(s.handleAdmin)))
		api.HandleFunc("/{resource}", s.handleEcho)
		api.HandleFunc("/{resource}/{path...}", s.handleEcho)
	})

	return router
}

// bodySizeLimit returns the configured body size limit, or default 1MB if not set.
func (s *Server) bodySizeLimit() int64 {
	if s.cfg.BodySizeLimit > 0 {
		return s.cfg.BodySizeLimit
	}
	return 1024 * 1024 // 1MB default
}

// requestsPerSec returns the configured requests per second limit, or default 1000 if not set.
func (s *Server) requestsPerSec() int64 {
	if s.cfg.RequestsPerSec > 0 {
		return s.cfg.RequestsPerSec
	}
	return 1000 // default
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}
