package server

import (
	"context"

	"github.com/teemow/inboxpilot/internal/clientcache"
	"github.com/teemow/inboxpilot/internal/service"
	"github.com/teemow/inboxpilot/internal/workflow"
)

// Engine is the part of service.Engine the HTTP API drives.
type Engine interface {
	GetOrCreateMCPData(ctx context.Context, userID string) (*clientcache.Bundle, error)
	InvalidateUserCache(userID string)
	ForceRebuildUserCache(ctx context.Context, userID string) (*clientcache.Bundle, error)
	RefreshExpiredTokensForUser(ctx context.Context, userID string) (int, error)
	EnsureAllTokensFresh(ctx context.Context, userID string) error
	Connections(ctx context.Context, userID string) ([]service.Connection, error)
	RunWorkflow(ctx context.Context, in workflow.Input) (<-chan workflow.Event, error)
	ResumeWorkflow(ctx context.Context, in workflow.ResumeInput) (<-chan workflow.Event, error)

	// ScheduleRefresh queues a background token refresh without blocking.
	ScheduleRefresh(userID string) bool

	// Ready reports why the engine cannot serve requests, or nil.
	Ready(ctx context.Context) error
}

var _ Engine = (*service.Engine)(nil)
