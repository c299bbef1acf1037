// Package classifier maps tool names to safety categories.
//
// A category is resolved in this order:
//
//  1. the deployment policy table (exact names, then glob patterns in file order)
//  2. the legacy name rules, combined with the tool's declared capability
//  3. SEQUENTIAL_ONLY for anything still unknown
//
// When a name rule matches and the tool also declares a capability, the
// stricter category wins. Tools whose names match no rule are classified by
// their declared capability alone.
//
// Example policy file:
//
//	overrides:
//	  - match: gmail_send_message
//	    category: REQUIRES_APPROVAL
//	  - match: "acme_*"
//	    category: SAFE_PARALLEL
package classifier
