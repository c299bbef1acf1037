package clientcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/credentials"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
)

// maxParallelDiscovery bounds concurrent provider connections per build.
const maxParallelDiscovery = 4

type candidate struct {
	server backends.ServerConfig
	token  string
}

type discovery struct {
	conn  backends.Connection
	tools []tools.Descriptor
	err   error
}

// build creates a bundle for the user. It returns an error only when the
// credential store cannot be read.
func (c *Cache) build(ctx context.Context, userID string) (*Bundle, string, error) {
	logger := c.logger.With(logging.UserHash(userID))

	creds, err := c.deps.Store.List(ctx, userID)
	if err != nil {
		return nil, instrumentation.BuildResultFailure, fmt.Errorf("list credentials: %w", err)
	}
	connected := make(map[string]bool, len(creds))
	for _, cred := range creds {
		connected[cred.Provider] = true
	}

	candidates, skipped := c.candidates(ctx, logger, userID, connected)
	results := c.discover(ctx, userID, candidates)

	client := &Client{conns: make(map[string]backends.Connection)}
	servers := make(map[string]backends.ServerConfig)
	var merged []tools.Descriptor
	seen := make(map[string]string)
	failed := 0

	for i, cand := range candidates {
		res := results[i]
		name := cand.server.Name
		if res.err != nil {
			failed++
			logger.Warn("tool discovery failed", logging.Provider(name), logging.Err(res.err))
			continue
		}
		client.conns[name] = res.conn
		servers[name] = cand.server
		if len(res.tools) == 0 {
			logger.Info("provider returned no tools", logging.Provider(name))
		}

		for _, d := range res.tools {
			if first, dup := seen[d.Name]; dup {
				logger.Warn("dropping duplicate tool",
					logging.Tool(d.Name),
					logging.Provider(name),
					slog.String("kept_from", first))
				continue
			}
			seen[d.Name] = name
			d.Provider = name
			d.Category = c.deps.Classifier.ClassifyTool(d.Name, d.Capability)
			merged = append(merged, d)
		}
	}

	b := newBundle(userID, client, merged, servers, c.deps.Clock.Now())

	outcome := instrumentation.BuildResultSuccess
	switch {
	case len(candidates) > 0 && failed == len(candidates):
		logger.Error("tool discovery failed for every provider, caching empty bundle",
			slog.Int("providers", len(candidates)))
		outcome = instrumentation.BuildResultEmpty
	case len(servers) == 0:
		outcome = instrumentation.BuildResultEmpty
	case failed > 0 || skipped > 0:
		outcome = instrumentation.BuildResultPartial
	}

	logger.Info("bundle built",
		slog.Int("providers", len(servers)),
		slog.Int("tools", len(merged)),
		slog.String("outcome", outcome))
	return b, outcome, nil
}

// candidates selects the configured providers the user can use and obtains
// their tokens, in configuration order. It returns how many providers the
// user has connected but could not be used.
func (c *Cache) candidates(ctx context.Context, logger *slog.Logger, userID string, connected map[string]bool) ([]candidate, int) {
	var out []candidate
	skipped := 0

	for _, server := range c.config.Servers {
		if !server.NeedsCredential() {
			out = append(out, candidate{server: server})
			continue
		}
		if !connected[server.Name] {
			continue
		}

		token, err := c.deps.Tokens.GetFreshToken(ctx, userID, server.Name)
		if err != nil {
			skipped++
			if errors.Is(err, credentials.ErrCredentialRevoked) {
				logger.Warn("provider needs reconnection", logging.Provider(server.Name), logging.Err(err))
			} else {
				logger.Warn("token acquisition failed", logging.Provider(server.Name), logging.Err(err))
			}
			continue
		}
		if p, ok := c.deps.Tokens.Provider(server.Name); ok && !p.CheckTokenShape(token) {
			skipped++
			logger.Warn("token failed shape check",
				logging.Provider(server.Name),
				slog.String("token", logging.SanitizeToken(token)))
			continue
		}
		out = append(out, candidate{server: server, token: token})
	}
	return out, skipped
}

// discover connects to every candidate concurrently. Results are indexed
// like candidates.
func (c *Cache) discover(ctx context.Context, userID string, candidates []candidate) []discovery {
	results := make([]discovery, len(candidates))

	var g errgroup.Group
	g.SetLimit(maxParallelDiscovery)
	for i, cand := range candidates {
		g.Go(func() error {
			results[i] = c.discoverOne(ctx, userID, cand)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Cache) discoverOne(ctx context.Context, userID string, cand candidate) discovery {
	conn, err := c.deps.Factory.Connect(ctx, cand.server, userID, cand.token)
	if err != nil {
		return discovery{err: fmt.Errorf("connect: %w", err)}
	}
	list, err := conn.ListTools(ctx)
	if err != nil {
		_ = conn.Close()
		return discovery{err: fmt.Errorf("list tools: %w", err)}
	}
	return discovery{conn: conn, tools: list}
}
