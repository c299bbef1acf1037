// Package logging provides structured logging utilities for inboxpilot.
//
// All components log through log/slog. This package keeps attribute names
// consistent (user_hash, provider, thread_id, tool_call_id, ...) and makes
// sure user identifiers and tokens never reach the logs in clear text.
//
// # Usage Patterns
//
//	logger := logging.WithComponent(slog.Default(), "clientcache")
//	logger.Info("bundle built",
//	    logging.UserHash(userID),
//	    logging.Provider("google"))
//
// The SlogAdapter also satisfies the printf-style logger used by MCP client
// transports, so remote tool servers log through the same handler.
package logging
