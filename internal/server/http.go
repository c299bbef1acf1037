package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

const (
	// DefaultAddr is the default address for the API server.
	DefaultAddr = ":8080"

	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout is the keep-alive idle timeout.
	DefaultIdleTimeout = 120 * time.Second
)

// HTTPServerConfig holds configuration for the API server.
type HTTPServerConfig struct {
	Addr string

	// ServerContext carries the engine and shutdown state.
	ServerContext *ServerContext

	// Health is optional; when set its probe endpoints are served.
	Health *HealthChecker

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

// HTTPServer serves the engine API.
type HTTPServer struct {
	addr    string
	sc      *ServerContext
	health  *HealthChecker
	handler http.Handler
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewHTTPServer creates the API server.
func NewHTTPServer(config HTTPServerConfig) (*HTTPServer, error) {
	if config.ServerContext == nil || config.ServerContext.Engine() == nil {
		return nil, fmt.Errorf("server context with an engine is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	logger := logging.WithComponent(config.Logger, "http")

	mux := http.NewServeMux()
	a := &api{
		engine:    config.ServerContext.Engine(),
		logger:    logger,
		heartbeat: config.HeartbeatInterval,
	}
	a.register(mux)
	if config.Health != nil {
		config.Health.RegisterHealthEndpoints(mux)
	}

	return &HTTPServer{
		addr:    config.Addr,
		sc:      config.ServerContext,
		health:  config.Health,
		handler: withMetrics(config.Metrics, logger, mux),
		logger:  logger,
	}, nil
}

// Handler returns the instrumented handler of every endpoint.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until Shutdown. It blocks; run it in a goroutine.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	// No write timeout: workflow streams stay open for the whole run.
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.sc.Context() },
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting API server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server not ready, cancels running streams and waits
// for handlers to return.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.SetReady(false)
	}
	s.sc.Shutdown()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return srv.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
