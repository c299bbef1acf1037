package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/inboxpilot/internal/tools"
)

// ToolError is a tool-level failure reported by the server (isError=true).
// It never indicates an unusable backend.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

type mcpConnection struct {
	client   *client.Client
	provider string
	logger   *slog.Logger
}

func (c *mcpConnection) initialize(ctx context.Context, version string) error {
	if err := c.client.Start(ctx); err != nil {
		return err
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "inboxpilot",
		Version: version,
	}
	_, err := c.client.Initialize(ctx, req)
	return err
}

// ListTools implements Connection.
func (c *mcpConnection) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	res, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: list tools of %s: %v", tools.ErrBackendUnavailable, c.provider, err)
	}

	out := make([]tools.Descriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := inputSchema(t)
		if err != nil {
			c.logger.Warn("skipping tool with unusable input schema",
				"tool", t.Name, "provider", c.provider, "error", err)
			continue
		}
		name := t.Name
		out = append(out, tools.Descriptor{
			Name:        name,
			Description: t.Description,
			Provider:    c.provider,
			InputSchema: schema,
			Capability:  CapabilityFromAnnotations(t.Annotations),
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				return c.callTool(ctx, name, args)
			},
		})
	}
	return out, nil
}

func (c *mcpConnection) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.client.CallTool(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: call %s on %s: %v", tools.ErrBackendUnavailable, name, c.provider, err)
	}

	text := renderContent(res.Content)
	if res.IsError {
		return "", &ToolError{Tool: name, Message: text}
	}
	return text, nil
}

// Close implements Connection.
func (c *mcpConnection) Close() error {
	return c.client.Close()
}

func inputSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	if t.InputSchema.Type == "" {
		return nil, nil
	}
	return json.Marshal(t.InputSchema)
}

func renderContent(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if tc, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if text := mcp.GetTextFromContent(item); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// CapabilityFromAnnotations converts MCP tool annotations to a capability.
// A nil hint declares nothing. The destructive hint only counts for tools
// that are not read-only, and an unannotated mcp-go tool carries
// destructiveHint=true, so it is treated as destructive.
func CapabilityFromAnnotations(a mcp.ToolAnnotation) tools.Capability {
	var c tools.Capability
	readOnly := a.ReadOnlyHint != nil && *a.ReadOnlyHint
	if readOnly {
		c.ReadOnly = boolPtr(true)
	}
	if a.DestructiveHint != nil && !readOnly {
		c.Destructive = boolPtr(*a.DestructiveHint)
	}
	if a.IdempotentHint != nil && *a.IdempotentHint {
		c.Idempotent = boolPtr(true)
	}
	return c
}

func boolPtr(b bool) *bool { return &b }
