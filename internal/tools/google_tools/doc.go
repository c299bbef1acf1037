// Package google_tools exposes a user's Google Workspace as an in-process MCP
// server.
//
// Each tool declares MCP annotations describing its effect, which the tool
// classifier uses to schedule it:
//
//   - read-only: gmail_search_messages, gmail_get_message,
//     calendar_list_events, drive_list_files, docs_get_document
//   - idempotent, non-destructive: gmail_modify_labels
//   - destructive: gmail_send_message, gmail_trash_message,
//     calendar_create_event, drive_share_file
//
// A server is built per user and access token by the client cache through
// ServerBuilder.
package google_tools
