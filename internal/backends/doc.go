// Package backends connects to the MCP servers that provide a user's tools.
//
// Built-in providers (Google Workspace, memory) run as in-process MCP servers
// created per user and token; remote providers are reached over streamable
// HTTP with the user's bearer token. Either way the caller gets a Connection
// whose tools are plain tools.Descriptor values.
package backends
