package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/checkpoint"
	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/clientcache"
	"github.com/teemow/inboxpilot/internal/credentials"
	"github.com/teemow/inboxpilot/internal/executor"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/workflow"
)

// Dependencies are the external collaborators of an Engine.
type Dependencies struct {
	Store       credentials.Store
	Refresher   *credentials.Refresher
	Factory     backends.Factory
	Planner     workflow.Planner
	Checkpoints checkpoint.Store

	// Classifier defaults to the built-in rules without overrides.
	Classifier *classifier.Classifier

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// NewID generates thread and tool call IDs (default: UUIDs).
	NewID func() string
}

// Connection is the state of one of a user's integrations.
type Connection struct {
	Provider    string                       `json:"provider"`
	DisplayName string                       `json:"displayName,omitempty"`
	Status      credentials.ConnectionStatus `json:"status"`
}

// Engine is the tool orchestration engine.
type Engine struct {
	config     Config
	store      credentials.Store
	refresher  *credentials.Refresher
	classifier *classifier.Classifier
	cache      *clientcache.Cache
	controller *workflow.Controller
	clock      clockwork.Clock
	logger     *slog.Logger

	jobs chan string
	errs chan error
	cron *cron.Cron

	mu       sync.Mutex
	users    map[string]time.Time
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an Engine. Call Start to run the background jobs.
func New(config Config, deps Dependencies) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Refresher == nil {
		return nil, fmt.Errorf("credential refresher is required")
	}
	if deps.Store == nil {
		deps.Store = deps.Refresher.Store()
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(nil, deps.Logger)
	}
	if config.RefreshQueueSize <= 0 {
		config.RefreshQueueSize = DefaultRefreshQueueSize
	}
	if config.RefreshSchedule == "" {
		config.RefreshSchedule = DefaultRefreshSchedule
	}
	if config.ActiveUserWindow <= 0 {
		config.ActiveUserWindow = DefaultActiveUserWindow
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	logger := logging.WithComponent(deps.Logger, "service")
	e := &Engine{
		config:     config,
		store:      deps.Store,
		refresher:  deps.Refresher,
		classifier: deps.Classifier,
		clock:      deps.Clock,
		logger:     logger,
		jobs:       make(chan string, config.RefreshQueueSize),
		errs:       make(chan error, 16),
		users:      make(map[string]time.Time),
	}

	if config.RefreshSchedule != "off" {
		if _, err := cron.ParseStandard(config.RefreshSchedule); err != nil {
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", config.RefreshSchedule, err)
		}
		e.cron = cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{logger}),
			cron.Recover(cronLogger{logger}),
		))
	}

	cache, err := clientcache.New(clientcache.Config{
		TTL:     config.CacheTTL,
		Servers: config.Servers,
	}, clientcache.Dependencies{
		Store:      deps.Store,
		Tokens:     deps.Refresher,
		Factory:    deps.Factory,
		Classifier: deps.Classifier,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}
	e.cache = cache
	deps.Classifier.OnChange(cache.InvalidateAll)

	runner := executor.New(executor.Options{
		Classifier: deps.Classifier,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
		NewID:      deps.NewID,
	})
	controller, err := workflow.New(config.Workflow.controllerConfig(), workflow.Dependencies{
		Planner:     deps.Planner,
		Tools:       workflow.ToolsetFunc(e.toolset),
		Runner:      runner,
		Checkpoints: deps.Checkpoints,
		Clock:       deps.Clock,
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
		NewID:       deps.NewID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow controller: %w", err)
	}
	e.controller = controller

	return e, nil
}

// toolset adapts the cache to the controller.
func (e *Engine) toolset(ctx context.Context, userID string) (workflow.Toolset, error) {
	b, err := e.cache.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return b, nil
}

// touch records that the user was served, keeping them in the refresh sweep.
func (e *Engine) touch(userID string) {
	e.mu.Lock()
	e.users[userID] = e.clock.Now()
	e.mu.Unlock()
}

// GetOrCreateMCPData returns the user's cached tool clients and catalog,
// building them on a miss.
func (e *Engine) GetOrCreateMCPData(ctx context.Context, userID string) (*clientcache.Bundle, error) {
	b, err := e.cache.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.touch(userID)
	return b, nil
}

// InvalidateUserCache drops the user's cached tool clients. Call it whenever
// the user's credentials or settings change.
func (e *Engine) InvalidateUserCache(userID string) {
	e.cache.Invalidate(userID)
}

// ForceRebuildUserCache discards and synchronously rebuilds the user's tool
// clients.
func (e *Engine) ForceRebuildUserCache(ctx context.Context, userID string) (*clientcache.Bundle, error) {
	b, err := e.cache.ForceRebuild(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.touch(userID)
	return b, nil
}

// RefreshExpiredTokensForUser refreshes the user's credentials that are
// expired or about to expire. The cache is invalidated when a credential
// changed, so the next request builds clients with the new tokens.
func (e *Engine) RefreshExpiredTokensForUser(ctx context.Context, userID string) (int, error) {
	n, err := e.refresher.RefreshExpired(ctx, userID)
	e.afterRefresh(userID, n, err)
	return n, err
}

// EnsureAllTokensFresh refreshes every credential of the user that has a
// refresh token, regardless of its expiry. Failures are returned per
// provider, joined.
func (e *Engine) EnsureAllTokensFresh(ctx context.Context, userID string) error {
	n, err := e.refresher.RefreshAll(ctx, userID)
	e.afterRefresh(userID, n, err)
	return err
}

func (e *Engine) afterRefresh(userID string, refreshed int, err error) {
	logger := e.logger.With(logging.UserHash(userID))
	if err != nil {
		logger.Warn("token refresh incomplete", slog.Int("refreshed", refreshed), logging.Err(err))
	}
	// A revoked credential was deleted, which changes the usable providers too.
	if refreshed > 0 || errors.Is(err, credentials.ErrCredentialRevoked) {
		e.cache.Invalidate(userID)
		logger.Debug("tokens refreshed, cache invalidated", slog.Int("refreshed", refreshed))
	}
}

// Connections reports the state of every configured integration that needs
// a credential.
func (e *Engine) Connections(ctx context.Context, userID string) ([]Connection, error) {
	var out []Connection
	for _, s := range e.config.Servers {
		if !s.NeedsCredential() {
			continue
		}
		status, err := e.refresher.CheckConnectionStatus(ctx, userID, s.Name)
		if err != nil {
			return nil, fmt.Errorf("check %s connection: %w", s.Name, err)
		}
		conn := Connection{Provider: s.Name, Status: status}
		if p, ok := e.refresher.Provider(s.Name); ok {
			conn.DisplayName = p.DisplayName
		}
		out = append(out, conn)
	}
	return out, nil
}

// RunWorkflow starts a workflow and streams its events.
func (e *Engine) RunWorkflow(ctx context.Context, in workflow.Input) (<-chan workflow.Event, error) {
	events, err := e.controller.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	e.touch(in.UserID)
	return events, nil
}

// ResumeWorkflow continues a suspended workflow with a decision.
func (e *Engine) ResumeWorkflow(ctx context.Context, in workflow.ResumeInput) (<-chan workflow.Event, error) {
	events, err := e.controller.Resume(ctx, in)
	if err != nil {
		return nil, err
	}
	if in.UserID != "" {
		e.touch(in.UserID)
	}
	return events, nil
}

// ErrEngineStopped is reported by Ready after Stop.
var ErrEngineStopped = errors.New("engine stopped")

// pinger is implemented by credential stores with a cheap liveness check.
type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the engine can serve requests: the client cache is
// open and the credential store answers.
func (e *Engine) Ready(ctx context.Context) error {
	if e.cache.Closed() {
		return ErrEngineStopped
	}
	var err error
	if p, ok := e.store.(pinger); ok {
		err = p.Ping(ctx)
	} else {
		_, err = e.store.List(ctx, "")
	}
	if err != nil {
		return fmt.Errorf("credential store unreachable: %w", err)
	}
	return nil
}

// Classifier returns the classifier used for scheduling decisions.
func (e *Engine) Classifier() *classifier.Classifier {
	return e.classifier
}

// Servers returns the configured providers.
func (e *Engine) Servers() []backends.ServerConfig {
	return append([]backends.ServerConfig(nil), e.config.Servers...)
}
