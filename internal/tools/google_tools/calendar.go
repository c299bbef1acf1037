package google_tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/tools/common"
	"github.com/teemow/inboxpilot/internal/workspace"
)

// defaultEventWindow is the listing range when no timeMax is given.
const defaultEventWindow = 7 * 24 * time.Hour

func calendarTools() []toolEntry {
	return []toolEntry{
		{
			tool: newTool("calendar_list_events", readOnly(),
				mcp.WithDescription("List calendar events in a time range"),
				mcp.WithString("calendarId", mcp.Description("Calendar ID (default: primary)")),
				mcp.WithString("timeMin", mcp.Description("Range start, RFC3339 (default: now)")),
				mcp.WithString("timeMax", mcp.Description("Range end, RFC3339 (default: 7 days after start)")),
				mcp.WithString("query", mcp.Description("Free text filter")),
				mcp.WithNumber("maxResults", mcp.Min(1), mcp.Max(250), mcp.Description("Maximum number of events")),
			),
			handler: handleListEvents,
		},
		{
			tool: newTool("calendar_create_event", destructive(),
				mcp.WithDescription("Create a calendar event and invite attendees"),
				mcp.WithString("summary", mcp.Required(), mcp.Description("Event title")),
				mcp.WithString("start", mcp.Required(), mcp.Description("Start time, RFC3339")),
				mcp.WithString("end", mcp.Required(), mcp.Description("End time, RFC3339")),
				mcp.WithString("description", mcp.Description("Event description")),
				mcp.WithString("location", mcp.Description("Event location")),
				mcp.WithString("timeZone", mcp.Description("IANA time zone (default: UTC)")),
				mcp.WithArray("attendees", mcp.WithStringItems(), mcp.Description("Attendee email addresses")),
				mcp.WithString("calendarId", mcp.Description("Calendar ID (default: primary)")),
			),
			handler: handleCreateEvent,
		},
	}
}

func parseTime(request mcp.CallToolRequest, key string, def time.Time) (time.Time, error) {
	raw := request.GetString(key, "")
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", key, err)
	}
	return t, nil
}

func handleListEvents(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		timeMin, err := parseTime(request, "timeMin", time.Now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeMax, err := parseTime(request, "timeMax", timeMin.Add(defaultEventWindow))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		events, err := c.ListEvents(ctx,
			request.GetString("calendarId", ""),
			timeMin, timeMax,
			request.GetString("query", ""),
			int64(request.GetInt("maxResults", 0)),
		)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("list events failed", err), nil
		}
		return common.JSONResult(events)
	}
}

func handleCreateEvent(c *workspace.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := request.RequireString("summary")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		start, err := parseTime(request, "start", time.Time{})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		end, err := parseTime(request, "end", time.Time{})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		event, err := c.CreateEvent(ctx, request.GetString("calendarId", ""), workspace.EventInput{
			Summary:     summary,
			Description: request.GetString("description", ""),
			Location:    request.GetString("location", ""),
			Start:       start,
			End:         end,
			TimeZone:    request.GetString("timeZone", ""),
			Attendees:   common.StringList(request, "attendees"),
		})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("create event failed", err), nil
		}
		return common.JSONResult(event)
	}
}
