package google_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/workspace"
)

func docsTools() []toolEntry {
	return []toolEntry{
		{
			tool: newTool("docs_get_document", readOnly(),
				mcp.WithDescription("Get a Google Doc as Markdown"),
				mcp.WithString("documentId", mcp.Required(), mcp.Description("ID of the document")),
			),
			handler: handleGetDocument,
		},
	}
}

func handleGetDocument(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("documentId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		doc, err := c.GetDocument(ctx, id)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("get document failed", err), nil
		}
		return mcp.NewToolResultText(doc.Markdown), nil
	}
}
