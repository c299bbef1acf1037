package common

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StringList reads a list argument that may be given either as a JSON array
// or as a comma-separated string. Blank entries are dropped.
func StringList(request mcp.CallToolRequest, key string) []string {
	var raw []string
	switch v := request.GetArguments()[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	default:
		raw = request.GetStringSlice(key, nil)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// JSONResult renders v as a JSON text result.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	res, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to encode result", err), nil
	}
	return res, nil
}
