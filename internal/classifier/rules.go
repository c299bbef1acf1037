package classifier

import (
	"strings"

	"github.com/teemow/inboxpilot/internal/tools"
)

// Substrings checked against lower-cased tool names. Approval rules are
// checked first, then sequential, then safe.
var (
	approvalMarkers = []string{
		"send", "delete", "trash", "remove", "share", "permission",
		"create_event", "update_event", "forward", "reply",
	}
	sequentialMarkers = []string{
		"modify", "label", "update", "archive", "mark", "move",
		"create", "add", "write", "store", "save",
	}
	safeMarkers = []string{
		"read", "list", "search", "get", "find", "query", "fetch",
	}
)

// ClassifyName applies the name rules. The boolean is false when no rule
// matched and the returned category is the SEQUENTIAL_ONLY fallback.
func ClassifyName(name string) (tools.Category, bool) {
	lower := strings.ToLower(name)

	if containsAny(lower, approvalMarkers) {
		return tools.RequiresApproval, true
	}
	if containsAny(lower, sequentialMarkers) {
		return tools.SequentialOnly, true
	}
	if containsAny(lower, safeMarkers) {
		return tools.SafeParallel, true
	}
	return tools.SequentialOnly, false
}

// ClassifyCapability maps a declared capability to a category. The boolean
// is false when the capability says nothing useful.
func ClassifyCapability(c tools.Capability) (tools.Category, bool) {
	switch {
	case isTrue(c.ReadOnly):
		return tools.SafeParallel, true
	case isTrue(c.Destructive):
		return tools.RequiresApproval, true
	case isFalse(c.Destructive), isTrue(c.Idempotent):
		return tools.SequentialOnly, true
	}
	return "", false
}

// Stricter returns the more restrictive of two categories.
func Stricter(a, b tools.Category) tools.Category {
	if b.Strictness() > a.Strictness() {
		return b
	}
	return a
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func isTrue(b *bool) bool  { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }
