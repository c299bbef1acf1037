package clientcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/credentials"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// ErrCacheClosed is returned after Stop.
var ErrCacheClosed = errors.New("client cache closed")

// Defaults for Config.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultCloseGrace    = time.Minute
)

// Config configures a Cache.
type Config struct {
	// TTL bounds how long a bundle is served after it was built.
	TTL time.Duration

	// SweepInterval is the period of the background sweep started by Start.
	SweepInterval time.Duration

	// CloseGrace delays closing a replaced or evicted bundle's connections.
	CloseGrace time.Duration

	// Servers lists the deployment's providers in configuration order.
	Servers []backends.ServerConfig
}

// TokenSource provides fresh access tokens and provider token shapes.
// *credentials.Refresher implements it.
type TokenSource interface {
	GetFreshToken(ctx context.Context, userID, provider string) (string, error)
	Provider(name string) (credentials.ProviderConfig, bool)
}

// Dependencies are the collaborators of a Cache.
type Dependencies struct {
	Store      credentials.Store
	Tokens     TokenSource
	Factory    backends.Factory
	Classifier *classifier.Classifier
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// Cache is the per-user bundle cache.
type Cache struct {
	config Config
	deps   Dependencies
	logger *slog.Logger

	mu         sync.Mutex
	entries    map[string]*Bundle
	generation map[string]uint64
	epoch      uint64
	closed     bool

	builds singleflight.Group

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New creates a Cache.
func New(config Config, deps Dependencies) (*Cache, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("backend factory is required")
	}
	seen := make(map[string]bool, len(config.Servers))
	for _, s := range config.Servers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate provider %q", s.Name)
		}
		seen[s.Name] = true
	}

	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.CloseGrace <= 0 {
		config.CloseGrace = DefaultCloseGrace
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(nil, deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	return &Cache{
		config:     config,
		deps:       deps,
		logger:     logging.WithComponent(deps.Logger, "clientcache"),
		entries:    make(map[string]*Bundle),
		generation: make(map[string]uint64),
		stop:       make(chan struct{}),
	}, nil
}

// Start launches the periodic sweep.
func (c *Cache) Start() {
	c.startOnce.Do(func() {
		ticker := c.deps.Clock.NewTicker(c.config.SweepInterval)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-c.stop:
					return
				case <-ticker.Chan():
					c.sweep()
				}
			}
		}()
	})
}

// Stop ends the sweep, closes every cached bundle and rejects further use.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		c.mu.Lock()
		c.closed = true
		entries := c.entries
		c.entries = make(map[string]*Bundle)
		c.mu.Unlock()

		for _, b := range entries {
			c.closeBundle(b)
		}
		c.deps.Metrics.AddCacheEntries(context.Background(), -int64(len(entries)))
	})
}

// Closed reports whether Stop has been called.
func (c *Cache) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of cached bundles, expired ones included until the
// next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrCreate returns the user's bundle, building it on a miss. Concurrent
// misses share one build. Only a hard failure such as an unreachable
// credential store is returned as an error; provider failures yield a
// partial or empty bundle.
func (c *Cache) GetOrCreate(ctx context.Context, userID string) (*Bundle, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	c.sweep()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if b, ok := c.entries[userID]; ok && !b.expired(c.deps.Clock.Now(), c.config.TTL) {
		c.mu.Unlock()
		c.deps.Metrics.RecordCacheRequest(ctx, instrumentation.CacheResultHit)
		return b, nil
	}
	gen, epoch := c.generation[userID], c.epoch
	c.mu.Unlock()

	ch := c.builds.DoChan(buildKey(userID, epoch), func() (any, error) {
		return c.buildAndStore(context.WithoutCancel(ctx), userID, gen, epoch)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.deps.Metrics.RecordCacheRequest(ctx, instrumentation.CacheResultShared)
		} else {
			c.deps.Metrics.RecordCacheRequest(ctx, instrumentation.CacheResultMiss)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	}
}

// Invalidate drops the user's bundle and any in-flight build. Callers
// already waiting on that build still receive its result, but it is not
// cached.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	c.generation[userID]++
	b, ok := c.entries[userID]
	delete(c.entries, userID)
	c.builds.Forget(buildKey(userID, c.epoch))
	c.mu.Unlock()

	if ok {
		c.deps.Metrics.AddCacheEntries(context.Background(), -1)
		c.retire(b)
	}
	c.logger.Debug("cache invalidated", logging.UserHash(userID))
}

// InvalidateAll drops every bundle and in-flight build, for example after
// the tool policy changed.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	evicted := make([]*Bundle, 0, len(c.entries))
	for userID, b := range c.entries {
		evicted = append(evicted, b)
		delete(c.entries, userID)
	}
	c.epoch++
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.deps.Metrics.AddCacheEntries(context.Background(), -int64(len(evicted)))
	}
	for _, b := range evicted {
		c.retire(b)
	}
	c.logger.Info("cache cleared", slog.Int("bundles", len(evicted)))
}

// ForceRebuild invalidates the user's bundle and synchronously builds a new
// one.
func (c *Cache) ForceRebuild(ctx context.Context, userID string) (*Bundle, error) {
	c.Invalidate(userID)
	return c.GetOrCreate(ctx, userID)
}

func buildKey(userID string, epoch uint64) string {
	return userID + "\x00" + strconv.FormatUint(epoch, 10)
}

func (c *Cache) buildAndStore(ctx context.Context, userID string, gen, epoch uint64) (*Bundle, error) {
	start := c.deps.Clock.Now()
	b, outcome, err := c.build(ctx, userID)
	c.deps.Metrics.RecordCacheBuild(ctx, outcome, c.deps.Clock.Since(start))
	if err != nil {
		c.logger.Error("bundle build failed", logging.UserHash(userID), logging.Err(err))
		return nil, err
	}

	c.mu.Lock()
	if c.closed || c.generation[userID] != gen || c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding bundle built before invalidation", logging.UserHash(userID))
		c.retire(b)
		return b, nil
	}
	old, replaced := c.entries[userID]
	c.entries[userID] = b
	c.mu.Unlock()

	if replaced {
		c.retire(old)
	} else {
		c.deps.Metrics.AddCacheEntries(ctx, 1)
	}
	return b, nil
}

// sweep evicts expired bundles.
func (c *Cache) sweep() {
	now := c.deps.Clock.Now()

	c.mu.Lock()
	var evicted []*Bundle
	for userID, b := range c.entries {
		if b.expired(now, c.config.TTL) {
			evicted = append(evicted, b)
			delete(c.entries, userID)
		}
	}
	c.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	c.deps.Metrics.AddCacheEntries(context.Background(), -int64(len(evicted)))
	for _, b := range evicted {
		c.retire(b)
	}
	c.logger.Debug("swept expired bundles", slog.Int("count", len(evicted)))
}

// retire closes a bundle's connections after the grace period.
func (c *Cache) retire(b *Bundle) {
	if b == nil || b.Client == nil || len(b.Client.conns) == 0 {
		return
	}
	c.deps.Clock.AfterFunc(c.config.CloseGrace, func() { c.closeBundle(b) })
}

func (c *Cache) closeBundle(b *Bundle) {
	if err := b.Client.Close(); err != nil {
		c.logger.Warn("closing bundle connections failed", logging.UserHash(b.UserID), logging.Err(err))
	}
}
