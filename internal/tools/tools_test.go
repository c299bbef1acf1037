package tools

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndex_FirstSeenWins(t *testing.T) {
	idx := NewIndex([]Descriptor{
		{Name: "search", Provider: "google"},
		{Name: "search", Provider: "acme"},
		{Name: "fetch", Provider: "acme"},
	})

	d, ok := idx.Lookup("search")
	require.True(t, ok)
	assert.Equal(t, "google", d.Provider)

	_, ok = idx.Lookup("missing")
	assert.False(t, ok)
	assert.Len(t, idx, 2)
}

func TestCategory_Strictness(t *testing.T) {
	assert.Less(t, SafeParallel.Strictness(), SequentialOnly.Strictness())
	assert.Less(t, SequentialOnly.Strictness(), RequiresApproval.Strictness())
	assert.True(t, RequiresApproval.Valid())
	assert.False(t, Category("BOGUS").Valid())
}

func TestResult_JSONUsesMilliseconds(t *testing.T) {
	r := Result{
		ToolCallID:    "call-1",
		ToolName:      "gmail_search_messages",
		Status:        StatusSuccess,
		Result:        "3 messages",
		ExecutionTime: 1500 * time.Millisecond,
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"toolCallId": "call-1",
		"toolName": "gmail_search_messages",
		"status": "success",
		"result": "3 messages",
		"executionTimeMs": 1500,
		"requiresApproval": false
	}`, string(data))

	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r, decoded)
}

func TestStatus_Settled(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusSuccess, true},
		{StatusError, true},
		{StatusTimeout, true},
		{StatusSkipped, true},
		{StatusPending, false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Settled())
		})
	}
}
