package backends

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/tools"
)

func newEchoServer(t *testing.T) *server.MCPServer {
	t.Helper()

	s := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("echo_get",
		mcp.WithDescription("Echo the input"),
		mcp.WithString("text", mcp.Required()),
		mcp.WithReadOnlyHintAnnotation(true),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("echo: " + text), nil
	})
	s.AddTool(mcp.NewTool("echo_fail"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("quota exceeded"), nil
	})
	return s
}

func findTool(t *testing.T, list []tools.Descriptor, name string) tools.Descriptor {
	t.Helper()
	for _, d := range list {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("tool %s not found", name)
	return tools.Descriptor{}
}

func TestMCPFactory_InProcess(t *testing.T) {
	ctx := context.Background()

	var gotUser, gotToken string
	factory := NewMCPFactory(map[Kind]ServerBuilder{
		KindMemory: func(_ context.Context, userID, token string) (*server.MCPServer, error) {
			gotUser, gotToken = userID, token
			return newEchoServer(t), nil
		},
	}, nil, nil, "test")

	conn, err := factory.Connect(ctx, ServerConfig{Name: "memory", Kind: KindMemory, Auth: AuthNone}, "alice", "tok")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "tok", gotToken)

	list, err := conn.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	echo := findTool(t, list, "echo_get")
	assert.Equal(t, "memory", echo.Provider)
	assert.Equal(t, "Echo the input", echo.Description)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`, string(echo.InputSchema))
	require.NotNil(t, echo.Capability.ReadOnly)
	assert.True(t, *echo.Capability.ReadOnly)
	assert.Empty(t, echo.Category, "classification is left to the caller")

	out, err := echo.Invoke(ctx, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	_, err = findTool(t, list, "echo_fail").Invoke(ctx, nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "quota exceeded", toolErr.Message)
	assert.False(t, errors.Is(err, tools.ErrBackendUnavailable))
}

func TestMCPFactory_InProcess_BuilderErrors(t *testing.T) {
	factory := NewMCPFactory(map[Kind]ServerBuilder{
		KindGoogle: func(context.Context, string, string) (*server.MCPServer, error) {
			return nil, errors.New("bad token")
		},
	}, nil, nil, "")

	_, err := factory.Connect(context.Background(), ServerConfig{Name: "google", Kind: KindGoogle, Auth: AuthOAuth}, "alice", "x")
	assert.ErrorContains(t, err, "bad token")

	_, err = factory.Connect(context.Background(), ServerConfig{Name: "memory", Kind: KindMemory}, "alice", "")
	assert.ErrorContains(t, err, "no server registered")
}

func TestMCPFactory_Remote(t *testing.T) {
	ctx := context.Background()

	var authHeader atomic.Value
	ts := server.NewTestStreamableHTTPServer(newEchoServer(t),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			authHeader.Store(r.Header.Get("Authorization"))
			return ctx
		}),
	)
	defer ts.Close()

	factory := NewMCPFactory(nil, ts.Client(), nil, "test")
	conn, err := factory.Connect(ctx, ServerConfig{Name: "search", Kind: KindMCP, URL: ts.URL + "/mcp", Auth: AuthOAuth}, "alice", "secret-token")
	require.NoError(t, err)
	defer conn.Close()

	list, err := conn.ListTools(ctx)
	require.NoError(t, err)

	out, err := findTool(t, list, "echo_get").Invoke(ctx, map[string]any{"text": "remote"})
	require.NoError(t, err)
	assert.Equal(t, "echo: remote", out)
	assert.Equal(t, "Bearer secret-token", authHeader.Load())
}

func TestMCPFactory_RemoteUnreachable(t *testing.T) {
	factory := NewMCPFactory(nil, nil, nil, "test")

	_, err := factory.Connect(context.Background(), ServerConfig{Name: "search", Kind: KindMCP, URL: "http://127.0.0.1:1/mcp", Auth: AuthNone}, "alice", "")
	assert.ErrorIs(t, err, tools.ErrBackendUnavailable)
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{"google", ServerConfig{Name: "google", Kind: KindGoogle, Auth: AuthOAuth}, ""},
		{"remote", ServerConfig{Name: "search", Kind: KindMCP, URL: "https://search.example.com/mcp", Auth: AuthNone}, ""},
		{"missing name", ServerConfig{Kind: KindGoogle, Auth: AuthOAuth}, "name is required"},
		{"remote without url", ServerConfig{Name: "search", Kind: KindMCP, Auth: AuthNone}, "url is required"},
		{"unknown kind", ServerConfig{Name: "x", Kind: "ftp", Auth: AuthNone}, "unknown kind"},
		{"unknown auth", ServerConfig{Name: "x", Kind: KindMemory, Auth: "basic"}, "unknown auth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCapabilityFromAnnotations(t *testing.T) {
	readOnly := mcp.NewTool("x", mcp.WithReadOnlyHintAnnotation(true)).Annotations
	c := CapabilityFromAnnotations(readOnly)
	require.NotNil(t, c.ReadOnly)
	assert.True(t, *c.ReadOnly)
	assert.Nil(t, c.Destructive, "destructive hint is ignored for read-only tools")

	safeWrite := mcp.NewTool("x",
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	).Annotations
	c = CapabilityFromAnnotations(safeWrite)
	require.NotNil(t, c.Destructive)
	assert.False(t, *c.Destructive)
	require.NotNil(t, c.Idempotent)
	assert.True(t, *c.Idempotent)

	destructive := mcp.NewTool("x", mcp.WithDestructiveHintAnnotation(true)).Annotations
	c = CapabilityFromAnnotations(destructive)
	require.NotNil(t, c.Destructive)
	assert.True(t, *c.Destructive)

	assert.False(t, CapabilityFromAnnotations(mcp.ToolAnnotation{}).Declared())
}

func TestCapabilityFromAnnotations_DestructiveNeedsApproval(t *testing.T) {
	c := classifier.New(nil, nil)

	tests := []struct {
		name   string
		tool   mcp.Tool
		want   tools.Category
		source classifier.Source
	}{
		{
			name:   "declared destructive with a neutral name",
			tool:   mcp.NewTool("publish_post", mcp.WithDestructiveHintAnnotation(true)),
			want:   tools.RequiresApproval,
			source: classifier.SourceCapability,
		},
		{
			name:   "destructive declaration beats a safe name",
			tool:   mcp.NewTool("get_and_archive", mcp.WithDestructiveHintAnnotation(true)),
			want:   tools.RequiresApproval,
			source: classifier.SourceCapability,
		},
		{
			name:   "read-only wins over the default destructive hint",
			tool:   mcp.NewTool("lookup_post", mcp.WithReadOnlyHintAnnotation(true)),
			want:   tools.SafeParallel,
			source: classifier.SourceCapability,
		},
		{
			name:   "non-destructive keeps the approval name rule",
			tool:   mcp.NewTool("send_digest", mcp.WithDestructiveHintAnnotation(false)),
			want:   tools.RequiresApproval,
			source: classifier.SourceName,
		},
		{
			name:   "no annotations fall back to the name rules",
			tool:   mcp.Tool{Name: "publish_post"},
			want:   tools.SequentialOnly,
			source: classifier.SourceFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Explain(tt.tool.Name, CapabilityFromAnnotations(tt.tool.Annotations))
			assert.Equal(t, tt.want, d.Category)
			assert.Equal(t, tt.source, d.Source)
		})
	}
}
