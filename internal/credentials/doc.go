// Package credentials stores per-user OAuth credentials and refreshes them.
//
// A Refresher performs at most one network refresh per (user, provider) at a
// time. Refreshed tokens are persisted before they are handed out, and a
// refresh rejected with invalid_grant deletes the stored credential so the
// integration reports as disconnected.
//
// Store implementations:
//
//   - MemoryStore: process-local, used by tests and single-node deployments
//   - SQLStore: PostgreSQL through lib/pq ("postgres") or pgx ("pgx")
//   - TokenStoreAdapter: any mcp-oauth storage.TokenStore
package credentials
