package memory_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/tools/common"
)

// ProviderName is the provider label of the built-in memory server.
const ProviderName = "memory"

const defaultSearchLimit = 10

// Definitions returns the memory tool definitions.
func Definitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("memory_store",
			mcp.WithDescription("Remember a fact under a key, replacing any previous fact with that key"),
			mcp.WithString("key", mcp.Required(), mcp.Description("Short unique key, e.g. 'manager'")),
			mcp.WithString("content", mcp.Required(), mcp.Description("The fact to remember")),
			mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Optional tags")),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		mcp.NewTool("memory_search",
			mcp.WithDescription("Search remembered facts by key, content or tag"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for")),
			mcp.WithNumber("limit", mcp.Min(1), mcp.Description("Maximum number of facts (default: 10)")),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		mcp.NewTool("memory_list",
			mcp.WithDescription("List all remembered facts, newest first"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		mcp.NewTool("memory_delete",
			mcp.WithDescription("Forget the fact stored under a key"),
			mcp.WithString("key", mcp.Required(), mcp.Description("Key of the fact")),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
	}
}

// NewServer creates an MCP server over the user's part of the store.
func NewServer(store *Store, userID string, inst common.Instrumentation, version string) *server.MCPServer {
	s := server.NewMCPServer("inboxpilot-memory", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	handlers := map[string]server.ToolHandlerFunc{
		"memory_store":  handleStore(store, userID),
		"memory_search": handleSearch(store, userID),
		"memory_list":   handleList(store, userID),
		"memory_delete": handleDelete(store, userID),
	}
	for _, tool := range Definitions() {
		s.AddTool(tool, common.InstrumentedToolHandler(tool.Name, inst, handlers[tool.Name]))
	}
	return s
}

// ServerBuilder returns a builder the backend factory uses to serve the
// memory provider kind.
func ServerBuilder(store *Store, audit *instrumentation.AuditLogger, version string) backends.ServerBuilder {
	return func(_ context.Context, userID, _ string) (*server.MCPServer, error) {
		if userID == "" {
			return nil, fmt.Errorf("user id is required")
		}
		return NewServer(store, userID, common.Instrumentation{
			UserID:   userID,
			Provider: ProviderName,
			Audit:    audit,
		}, version), nil
	}
}

func handleStore(store *Store, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := request.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		store.Put(userID, key, content, common.StringList(request, "tags"))
		return mcp.NewToolResultText(fmt.Sprintf("Remembered %q", key)), nil
	}
}

func handleSearch(store *Store, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return common.JSONResult(store.Search(userID, query, request.GetInt("limit", defaultSearchLimit)))
	}
}

func handleList(store *Store, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return common.JSONResult(store.List(userID))
	}
}

func handleDelete(store *Store, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := request.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !store.Delete(userID, key) {
			return mcp.NewToolResultError(fmt.Sprintf("nothing remembered under %q", key)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Forgot %q", key)), nil
	}
}
