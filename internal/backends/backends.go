package backends

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
)

// Kind selects how a provider is reached.
type Kind string

const (
	// KindGoogle is the built-in Google Workspace server.
	KindGoogle Kind = "google"
	// KindMemory is the built-in memory server.
	KindMemory Kind = "memory"
	// KindMCP is a remote MCP server over streamable HTTP.
	KindMCP Kind = "mcp"
)

// Auth modes of a provider.
const (
	AuthOAuth = "oauth"
	AuthNone  = "none"
)

// DefaultTimeout bounds remote MCP requests.
const DefaultTimeout = 30 * time.Second

// ServerConfig describes one configured tool provider.
type ServerConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Kind Kind   `json:"kind" yaml:"kind" validate:"oneof=google memory mcp"`

	// URL of a remote MCP server; unused for built-in kinds.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"required_if=Kind mcp,omitempty,url"`

	// Auth is "oauth" (a stored credential is required) or "none".
	Auth string `json:"auth" yaml:"auth" validate:"oneof=oauth none"`

	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
	Headers map[string]string `json:"-" yaml:"headers,omitempty"`
}

// NeedsCredential reports whether the provider requires a stored credential.
func (c ServerConfig) NeedsCredential() bool {
	return c.Auth != AuthNone
}

// Validate checks the configuration.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	switch c.Kind {
	case KindGoogle, KindMemory:
	case KindMCP:
		if c.URL == "" {
			return fmt.Errorf("provider %s: url is required for kind %q", c.Name, c.Kind)
		}
	default:
		return fmt.Errorf("provider %s: unknown kind %q", c.Name, c.Kind)
	}
	switch c.Auth {
	case AuthOAuth, AuthNone:
	default:
		return fmt.Errorf("provider %s: unknown auth %q", c.Name, c.Auth)
	}
	return nil
}

// Connection is a live session with one provider.
type Connection interface {
	// ListTools returns the provider's tools. Descriptors carry an Invoke
	// bound to this connection and no category.
	ListTools(ctx context.Context) ([]tools.Descriptor, error)

	// Close ends the session.
	Close() error
}

// Factory opens connections to providers.
type Factory interface {
	Connect(ctx context.Context, cfg ServerConfig, userID, token string) (Connection, error)
}

// ServerBuilder creates the in-process MCP server of a built-in provider for
// one user and token.
type ServerBuilder func(ctx context.Context, userID, token string) (*server.MCPServer, error)

// MCPFactory is the default Factory.
type MCPFactory struct {
	builders   map[Kind]ServerBuilder
	httpClient *http.Client
	logger     *slog.Logger
	version    string
}

// NewMCPFactory creates a factory. Built-in kinds are served by the given
// builders; KindMCP always uses streamable HTTP.
func NewMCPFactory(builders map[Kind]ServerBuilder, httpClient *http.Client, logger *slog.Logger, version string) *MCPFactory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if version == "" {
		version = "dev"
	}
	return &MCPFactory{
		builders:   builders,
		httpClient: httpClient,
		logger:     logging.WithComponent(logger, "backends"),
		version:    version,
	}
}

// Connect opens and initializes a session with the provider.
func (f *MCPFactory) Connect(ctx context.Context, cfg ServerConfig, userID, token string) (Connection, error) {
	var (
		c   *client.Client
		err error
	)

	switch cfg.Kind {
	case KindMCP:
		c, err = f.remoteClient(cfg, token)
	default:
		builder, ok := f.builders[cfg.Kind]
		if !ok {
			return nil, fmt.Errorf("no server registered for provider kind %q", cfg.Kind)
		}
		var srv *server.MCPServer
		srv, err = builder(ctx, userID, token)
		if err != nil {
			return nil, fmt.Errorf("build %s server: %w", cfg.Name, err)
		}
		c, err = client.NewInProcessClient(srv)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Name, err)
	}

	conn := &mcpConnection{client: c, provider: cfg.Name, logger: f.logger}
	if err := conn.initialize(ctx, f.version); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: initialize %s: %v", tools.ErrBackendUnavailable, cfg.Name, err)
	}
	return conn, nil
}

func (f *MCPFactory) remoteClient(cfg ServerConfig, token string) (*client.Client, error) {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Per-connection copy; the transport's timeout option mutates the client.
	httpClient := *f.httpClient
	httpClient.Timeout = timeout

	return client.NewStreamableHttpClient(cfg.URL,
		transport.WithHTTPBasicClient(&httpClient),
		transport.WithHTTPHeaders(headers),
		transport.WithHTTPLogger(logging.NewSlogAdapter(f.logger)),
	)
}
