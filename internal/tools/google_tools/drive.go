package google_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/tools/common"
	"github.com/teemow/inboxpilot/internal/workspace"
)

func driveTools() []toolEntry {
	return []toolEntry{
		{
			tool: newTool("drive_list_files", readOnly(),
				mcp.WithDescription("List Google Drive files, optionally filtered by a Drive query (e.g. \"name contains 'plan'\")"),
				mcp.WithString("query", mcp.Description("Drive search query")),
				mcp.WithNumber("maxResults", mcp.Min(1), mcp.Max(1000), mcp.Description("Maximum number of files")),
			),
			handler: handleListFiles,
		},
		{
			tool: newTool("drive_share_file", destructive(),
				mcp.WithDescription("Share a Google Drive file by granting a permission"),
				mcp.WithString("fileId", mcp.Required(), mcp.Description("ID of the file")),
				mcp.WithString("type", mcp.Required(), mcp.Enum("user", "group", "domain", "anyone"), mcp.Description("Grantee type")),
				mcp.WithString("role", mcp.Required(), mcp.Enum("reader", "commenter", "writer"), mcp.Description("Granted role")),
				mcp.WithString("emailAddress", mcp.Description("Grantee email for user or group")),
				mcp.WithString("domain", mcp.Description("Grantee domain for domain permissions")),
				mcp.WithBoolean("notify", mcp.Description("Send a notification email (default: false)")),
				mcp.WithString("message", mcp.Description("Notification message")),
			),
			handler: handleShareFile,
		},
	}
}

func handleListFiles(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files, err := c.ListFiles(ctx, request.GetString("query", ""), int64(request.GetInt("maxResults", 0)))
		if err != nil {
			return mcp.NewToolResultErrorFromErr("list files failed", err), nil
		}
		return common.JSONResult(files)
	}
}

func handleShareFile(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := request.RequireString("fileId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		perm, err := c.ShareFile(ctx, fileID, workspace.ShareOptions{
			Type:         request.GetString("type", ""),
			Role:         request.GetString("role", ""),
			EmailAddress: request.GetString("emailAddress", ""),
			Domain:       request.GetString("domain", ""),
			Notify:       request.GetBool("notify", false),
			Message:      request.GetString("message", ""),
		})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("share failed", err), nil
		}
		return common.JSONResult(perm)
	}
}
