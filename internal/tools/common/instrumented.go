package common

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/instrumentation"
)

// Instrumentation carries what a built-in server knows about the session it
// serves. The zero value disables audit logging.
type Instrumentation struct {
	UserID   string
	Provider string
	Audit    *instrumentation.AuditLogger
}

// InstrumentedToolHandler wraps a tool handler with a server span and an
// audit log entry. Execution metrics are recorded by the caller's executor.
//
// Usage:
//
//	s.AddTool(tool, common.InstrumentedToolHandler("gmail_send_message", inst, handler))
func InstrumentedToolHandler(toolName string, inst Instrumentation, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartSpan(ctx, "backend."+toolName,
			instrumentation.NewSpanAttributeBuilder().
				WithTool(toolName).
				WithProvider(inst.Provider).
				Build()...,
		)
		defer span.End()

		execution := instrumentation.NewToolExecution(toolName).
			WithUser(inst.UserID).
			WithProvider(inst.Provider).
			WithSpanContext(ctx)

		result, err := handler(ctx, request)

		switch {
		case err != nil:
			instrumentation.SetSpanError(span, err)
			execution.Complete(instrumentation.StatusError, err)
		case result != nil && result.IsError:
			resultErr := errors.New(resultText(result))
			instrumentation.SetSpanError(span, resultErr)
			execution.Complete(instrumentation.StatusError, resultErr)
		default:
			instrumentation.SetSpanSuccess(span)
			execution.Complete(instrumentation.StatusSuccess, nil)
		}

		inst.Audit.LogToolExecution(execution)
		return result, err
	}
}

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return "tool reported an error"
}
