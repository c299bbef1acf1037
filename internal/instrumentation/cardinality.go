package instrumentation

import "strings"

// Cardinality management helpers for metrics.
//
// Tool catalogs come partly from remote MCP servers, so tool names are not a
// closed set. Unless detailed labels are enabled, only names with a known
// built-in prefix are used verbatim as label values; everything else is
// collapsed to its provider-ish prefix or "other".

// builtinToolPrefixes lists tool name prefixes served by built-in backends.
var builtinToolPrefixes = []string{"gmail_", "calendar_", "drive_", "docs_", "memory_"}

// maxLabelLength bounds label values even in detailed mode.
const maxLabelLength = 64

// ToolLabel returns the metric label value for a tool name.
//
// Example:
//
//	ToolLabel("gmail_send_message", false)  // "gmail_send_message"
//	ToolLabel("acme_search_docs", false)    // "remote:acme"
//	ToolLabel("search", false)              // "other"
//	ToolLabel("acme_search_docs", true)     // "acme_search_docs"
func ToolLabel(name string, detailed bool) string {
	if name == "" {
		return StatusUnknown
	}
	if detailed {
		if len(name) > maxLabelLength {
			return name[:maxLabelLength]
		}
		return name
	}
	for _, prefix := range builtinToolPrefixes {
		if strings.HasPrefix(name, prefix) {
			return name
		}
	}
	if i := strings.IndexByte(name, '_'); i > 0 {
		return "remote:" + name[:i]
	}
	return "other"
}
