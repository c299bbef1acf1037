package google_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/tools/common"
	"github.com/teemow/inboxpilot/internal/workspace"
)

func gmailTools() []toolEntry {
	return []toolEntry{
		{
			tool: newTool("gmail_search_messages", readOnly(),
				mcp.WithDescription("Search Gmail messages with a Gmail query (e.g. 'from:alice is:unread')"),
				mcp.WithString("query", mcp.Required(), mcp.Description("Gmail search query")),
				mcp.WithNumber("maxResults", mcp.Min(1), mcp.Max(100), mcp.Description("Maximum number of messages (default: 20)")),
			),
			handler: handleSearchMessages,
		},
		{
			tool: newTool("gmail_get_message", readOnly(),
				mcp.WithDescription("Get a Gmail message including its text body"),
				mcp.WithString("messageId", mcp.Required(), mcp.Description("ID of the message")),
			),
			handler: handleGetMessage,
		},
		{
			tool: newTool("gmail_send_message", destructive(),
				mcp.WithDescription("Send an email through Gmail"),
				mcp.WithString("to", mcp.Required(), mcp.Description("Recipient address(es), comma-separated")),
				mcp.WithString("subject", mcp.Required(), mcp.Description("Email subject")),
				mcp.WithString("body", mcp.Required(), mcp.Description("Email body")),
				mcp.WithString("cc", mcp.Description("CC address(es), comma-separated")),
				mcp.WithString("bcc", mcp.Description("BCC address(es), comma-separated")),
				mcp.WithBoolean("isHTML", mcp.Description("Whether the body is HTML (default: false)")),
			),
			handler: handleSendMessage,
		},
		{
			tool: newTool("gmail_modify_labels",
				[]mcp.ToolOption{
					mcp.WithReadOnlyHintAnnotation(false),
					mcp.WithDestructiveHintAnnotation(false),
					mcp.WithIdempotentHintAnnotation(true),
				},
				mcp.WithDescription("Add or remove labels on a Gmail message (e.g. remove INBOX to archive)"),
				mcp.WithString("messageId", mcp.Required(), mcp.Description("ID of the message")),
				mcp.WithArray("addLabels", mcp.WithStringItems(), mcp.Description("Label IDs to add")),
				mcp.WithArray("removeLabels", mcp.WithStringItems(), mcp.Description("Label IDs to remove")),
			),
			handler: handleModifyLabels,
		},
		{
			tool: newTool("gmail_trash_message", destructive(),
				mcp.WithDescription("Move a Gmail message to the trash"),
				mcp.WithString("messageId", mcp.Required(), mcp.Description("ID of the message")),
			),
			handler: handleTrashMessage,
		},
	}
}

func handleSearchMessages(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := request.GetInt("maxResults", workspace.DefaultSearchLimit)

		msgs, err := c.SearchMessages(ctx, query, int64(limit))
		if err != nil {
			return mcp.NewToolResultErrorFromErr("search failed", err), nil
		}
		return common.JSONResult(msgs)
	}
}

func handleGetMessage(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("messageId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("get message failed", err), nil
		}
		return common.JSONResult(msg)
	}
}

func handleSendMessage(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg := workspace.EmailMessage{
			To:      common.StringList(request, "to"),
			Cc:      common.StringList(request, "cc"),
			Bcc:     common.StringList(request, "bcc"),
			Subject: request.GetString("subject", ""),
			Body:    request.GetString("body", ""),
			IsHTML:  request.GetBool("isHTML", false),
		}
		id, err := c.SendMessage(ctx, msg)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("send failed", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Email sent (message ID %s)", id)), nil
	}
}

func handleModifyLabels(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("messageId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		labels, err := c.ModifyLabels(ctx, id,
			common.StringList(request, "addLabels"),
			common.StringList(request, "removeLabels"),
		)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("modify labels failed", err), nil
		}
		return common.JSONResult(map[string]any{"messageId": id, "labels": labels})
	}
}

func handleTrashMessage(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("messageId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := c.TrashMessage(ctx, id); err != nil {
			return mcp.NewToolResultErrorFromErr("trash failed", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Message %s moved to trash", id)), nil
	}
}
