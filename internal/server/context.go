package server

import (
	"context"
	"sync"
)

// ServerContext carries the engine and the shutdown state shared by the
// HTTP handlers.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	engine   Engine
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context for engine.
func NewServerContext(ctx context.Context, engine Engine) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		engine: engine,
	}
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Engine returns the engine behind the handlers.
func (sc *ServerContext) Engine() Engine {
	return sc.engine
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the server as shutting down and cancels its context.
func (sc *ServerContext) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return
	}
	sc.shutdown = true
	sc.cancel()
}
