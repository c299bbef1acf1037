// Package memory_tools serves a per-user knowledge store as an in-process
// MCP server. The agent uses it to remember facts across workflow runs.
//
// Tools: memory_store, memory_search, memory_list and memory_delete.
package memory_tools
