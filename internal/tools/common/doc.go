// Package common provides shared helpers for the built-in MCP tool servers:
// argument parsing, result rendering and the instrumentation wrapper every
// handler is registered through.
package common
