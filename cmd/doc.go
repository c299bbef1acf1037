// Package cmd implements the command-line interface for inboxpilot.
//
// This package provides the following commands:
//   - serve: Start the HTTP API with background token refresh
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for the built-in tools
//   - classify: Show the safety category of tool names under a policy
package cmd
