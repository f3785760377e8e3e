// Package api provides the RESTful HTTP API server for managing the
// connection guard. It exposes endpoints for rule and command
// management, the configuration record, dry-run decisions, statistics
// and health checks.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ebpf-microsegment/connguard/pkg/api/handlers"
	"github.com/ebpf-microsegment/connguard/pkg/dataplane"
	"github.com/ebpf-microsegment/connguard/pkg/policy"
)

// Backend is what the handlers operate on.
type Backend struct {
	Policy    policy.Manager
	Stats     dataplane.StatisticsProvider
	Evaluator handlers.Evaluator
	Info      handlers.StatusInfo
	// NodeName is reported for hypothetical processes.
	NodeName string
}

// Server represents the HTTP API server. It uses the Gin framework and
// serves the policy control plane.
type Server struct {
	config     *Config
	backend    Backend
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
}

// NewAPIServer creates and initializes a new API server instance.
// It sets up the Gin router, configures middleware, and registers all routes.
//
// Parameters:
//   - cfg: API server configuration (nil uses defaults)
//   - b: policy manager, statistics and evaluator to serve
//
// Returns:
//   - *Server: Initialized server instance
//   - error: Error if initialization fails
func NewAPIServer(cfg *Config, b Backend) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if b.Policy == nil || b.Stats == nil || b.Evaluator == nil {
		return nil, errors.New("api backend requires policy, stats and evaluator")
	}

	// Set Gin mode based on log level
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:  cfg,
		backend: b,
		router:  gin.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// Start binds the listen address and serves in a background goroutine.
// Bind errors are returned; serve errors after that are logged.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Infof("Starting API server on %s", ln.Addr())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server stopped: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the HTTP server.
// It waits for in-flight requests to complete (up to 30 seconds).
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	log.Info("Shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("API server forced to shutdown: %v", err)
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// GetRouter returns the underlying Gin router instance.
// This is primarily useful for testing purposes to inject
// test HTTP requests without starting the full HTTP server.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
