package clientcache

import (
	"errors"
	"sort"
	"time"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/tools"
)

// Client is the set of live provider connections behind a bundle.
type Client struct {
	conns map[string]backends.Connection
}

// Providers returns the names of the connected providers, sorted.
func (c *Client) Providers() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, conn := range c.conns {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

// Bundle is an immutable snapshot of one user's tool clients and catalog.
// It implements tools.Catalog.
type Bundle struct {
	UserID string
	Client *Client

	// Tools is the deduplicated catalog in provider configuration order.
	Tools []tools.Descriptor

	// Servers holds the providers that were connected, including those
	// that returned no tools.
	Servers map[string]backends.ServerConfig

	LastUpdated time.Time

	index tools.Index
}

func newBundle(userID string, client *Client, list []tools.Descriptor, servers map[string]backends.ServerConfig, now time.Time) *Bundle {
	return &Bundle{
		UserID:      userID,
		Client:      client,
		Tools:       list,
		Servers:     servers,
		LastUpdated: now,
		index:       tools.NewIndex(list),
	}
}

// Lookup implements tools.Catalog.
func (b *Bundle) Lookup(name string) (tools.Descriptor, bool) {
	if b == nil {
		return tools.Descriptor{}, false
	}
	return b.index.Lookup(name)
}

// Descriptors returns the catalog in provider configuration order.
func (b *Bundle) Descriptors() []tools.Descriptor {
	if b == nil {
		return nil
	}
	return b.Tools
}

// Empty reports whether the bundle has no tools.
func (b *Bundle) Empty() bool {
	return b == nil || len(b.Tools) == 0
}

// expired reports whether the bundle is older than ttl at now.
func (b *Bundle) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(b.LastUpdated) > ttl
}
