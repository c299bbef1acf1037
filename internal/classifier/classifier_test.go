package classifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/tools"
)

func boolPtr(b bool) *bool { return &b }

func TestClassifyName(t *testing.T) {
	tests := []struct {
		name        string
		tool        string
		want        tools.Category
		wantMatched bool
	}{
		{"search is safe", "gmail_search_messages", tools.SafeParallel, true},
		{"get is safe", "docs_get_document", tools.SafeParallel, true},
		{"list is safe", "calendar_list_events", tools.SafeParallel, true},
		{"web search is safe", "web_search", tools.SafeParallel, true},
		{"send needs approval", "gmail_send_message", tools.RequiresApproval, true},
		{"trash needs approval", "gmail_trash_message", tools.RequiresApproval, true},
		{"share needs approval", "drive_share_file", tools.RequiresApproval, true},
		{"create_event needs approval", "calendar_create_event", tools.RequiresApproval, true},
		{"reply needs approval", "gmail_reply", tools.RequiresApproval, true},
		{"labels are sequential", "gmail_modify_labels", tools.SequentialOnly, true},
		{"archive is sequential", "gmail_archive_thread", tools.SequentialOnly, true},
		{"memory store is sequential", "memory_store", tools.SequentialOnly, true},
		{"approval beats sequential", "drive_update_permission", tools.RequiresApproval, true},
		{"case insensitive", "Gmail_Send_Message", tools.RequiresApproval, true},
		{"unknown falls back", "acme_frobnicate", tools.SequentialOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := ClassifyName(tt.tool)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMatched, matched)
		})
	}
}

func TestClassifyCapability(t *testing.T) {
	tests := []struct {
		name         string
		capability   tools.Capability
		want         tools.Category
		wantDeclared bool
	}{
		{"read only", tools.Capability{ReadOnly: boolPtr(true)}, tools.SafeParallel, true},
		{"destructive", tools.Capability{Destructive: boolPtr(true)}, tools.RequiresApproval, true},
		{"non destructive", tools.Capability{Destructive: boolPtr(false)}, tools.SequentialOnly, true},
		{"idempotent", tools.Capability{Idempotent: boolPtr(true)}, tools.SequentialOnly, true},
		{"read only wins over destructive", tools.Capability{ReadOnly: boolPtr(true), Destructive: boolPtr(true)}, tools.SafeParallel, true},
		{"nothing declared", tools.Capability{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, declared := ClassifyCapability(tt.capability)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDeclared, declared)
		})
	}
}

func TestClassifier_Explain(t *testing.T) {
	policy, err := NewPolicy([]Override{
		{Match: "gmail_send_message", Category: tools.SequentialOnly},
		{Match: "acme_*", Category: tools.SafeParallel},
		{Match: "acme_delete_*", Category: tools.RequiresApproval},
	})
	require.NoError(t, err)
	c := New(policy, nil)

	tests := []struct {
		name       string
		tool       string
		capability tools.Capability
		want       Decision
	}{
		{
			name: "exact policy entry",
			tool: "gmail_send_message",
			want: Decision{tools.SequentialOnly, SourcePolicy},
		},
		{
			name: "first matching glob wins",
			tool: "acme_delete_doc",
			want: Decision{tools.SafeParallel, SourcePolicy},
		},
		{
			name:       "policy beats capability",
			tool:       "acme_lookup",
			capability: tools.Capability{Destructive: boolPtr(true)},
			want:       Decision{tools.SafeParallel, SourcePolicy},
		},
		{
			name:       "capability cannot relax a name rule",
			tool:       "drive_share_file",
			capability: tools.Capability{ReadOnly: boolPtr(true)},
			want:       Decision{tools.RequiresApproval, SourceName},
		},
		{
			name:       "stricter capability tightens a name rule",
			tool:       "crm_get_or_purge",
			capability: tools.Capability{Destructive: boolPtr(true)},
			want:       Decision{tools.RequiresApproval, SourceCapability},
		},
		{
			name:       "capability classifies unknown names",
			tool:       "weather_now",
			capability: tools.Capability{ReadOnly: boolPtr(true)},
			want:       Decision{tools.SafeParallel, SourceCapability},
		},
		{
			name: "unknown without capability falls back",
			tool: "weather_now",
			want: Decision{tools.SequentialOnly, SourceFallback},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Explain(tt.tool, tt.capability))
		})
	}
}

func TestClassifier_NoPolicy(t *testing.T) {
	c := New(nil, nil)
	assert.Equal(t, tools.SafeParallel, c.Classify("gmail_get_message"))
	assert.Equal(t, tools.RequiresApproval, c.ClassifyTool("gmail_send_message", tools.Capability{}))
	assert.Nil(t, c.Policy())
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantLen int
		wantErr string
	}{
		{
			name: "valid",
			doc: `
overrides:
  - match: gmail_send_message
    category: REQUIRES_APPROVAL
  - match: "acme_*"
    category: SAFE_PARALLEL
`,
			wantLen: 2,
		},
		{name: "empty document", doc: "", wantLen: 0},
		{
			name:    "unknown category",
			doc:     "overrides:\n  - match: x\n    category: MAYBE\n",
			wantErr: "unknown category",
		},
		{
			name:    "missing match",
			doc:     "overrides:\n  - category: SAFE_PARALLEL\n",
			wantErr: "match is required",
		},
		{
			name:    "bad glob",
			doc:     "overrides:\n  - match: \"acme_[\"\n    category: SAFE_PARALLEL\n",
			wantErr: "bad pattern",
		},
		{name: "not yaml", doc: "overrides: [", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.doc))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, p.Len())
		})
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClassifier_OnChange(t *testing.T) {
	c := New(nil, nil)
	var calls int
	c.OnChange(func() { calls++ })

	_, ok := c.Override("web_search")
	assert.False(t, ok)

	policy, err := NewPolicy([]Override{{Match: "web_search", Category: tools.RequiresApproval}})
	require.NoError(t, err)
	c.SetPolicy(policy)

	assert.Equal(t, 1, calls)
	category, ok := c.Override("web_search")
	require.True(t, ok)
	assert.Equal(t, tools.RequiresApproval, category)
}

func TestClassifier_WatchPolicy(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("overrides:\n  - match: web_search\n    category: SEQUENTIAL_ONLY\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	c := New(nil, nil)
	require.NoError(t, c.WatchPolicy(ctx, file))
	t.Cleanup(func() {
		cancel()
		c.Wait()
	})

	assert.Equal(t, tools.SequentialOnly, c.Classify("web_search"))

	require.NoError(t, os.WriteFile(file, []byte("overrides:\n  - match: web_search\n    category: REQUIRES_APPROVAL\n"), 0o600))
	require.Eventually(t, func() bool {
		return c.Classify("web_search") == tools.RequiresApproval
	}, 5*time.Second, 20*time.Millisecond)

	// A broken file keeps the previous table.
	require.NoError(t, os.WriteFile(file, []byte("overrides: ["), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, tools.RequiresApproval, c.Classify("web_search"))
}

func TestClassifier_WatchPolicy_InvalidInitialFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("overrides:\n  - match: x\n    category: NOPE\n"), 0o600))

	c := New(nil, nil)
	assert.Error(t, c.WatchPolicy(context.Background(), file))
}
