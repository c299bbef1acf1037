package google_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/tools/common"
	"github.com/teemow/inboxpilot/internal/workspace"
)

// ProviderName is the provider label of the built-in Google server.
const ProviderName = "google"

type handlerFactory func(c *workspace.Client) server.ToolHandlerFunc

type toolEntry struct {
	tool    mcp.Tool
	handler handlerFactory
}

func entries() []toolEntry {
	var all []toolEntry
	all = append(all, gmailTools()...)
	all = append(all, calendarTools()...)
	all = append(all, driveTools()...)
	all = append(all, docsTools()...)
	return all
}

// Definitions returns the tool definitions without binding them to a client.
func Definitions() []mcp.Tool {
	list := entries()
	out := make([]mcp.Tool, 0, len(list))
	for _, e := range list {
		out = append(out, e.tool)
	}
	return out
}

// NewServer creates an MCP server whose tools operate on the given client.
func NewServer(client *workspace.Client, inst common.Instrumentation, version string) *server.MCPServer {
	s := server.NewMCPServer("inboxpilot-google", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, e := range entries() {
		s.AddTool(e.tool, common.InstrumentedToolHandler(e.tool.Name, inst, e.handler(client)))
	}
	return s
}

// ServerBuilder returns a builder the backend factory uses to serve the
// google provider kind. cfg.Token is replaced by the user's access token.
func ServerBuilder(cfg workspace.Config, audit *instrumentation.AuditLogger, version string) backends.ServerBuilder {
	return func(ctx context.Context, userID, token string) (*server.MCPServer, error) {
		clientCfg := cfg
		clientCfg.Token = token
		client, err := workspace.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("google workspace client: %w", err)
		}
		return NewServer(client, common.Instrumentation{
			UserID:   userID,
			Provider: ProviderName,
			Audit:    audit,
		}, version), nil
	}
}

func readOnly() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	}
}

func destructive() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
	}
}

func newTool(name string, effect []mcp.ToolOption, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append(opts, effect...)...)
}
