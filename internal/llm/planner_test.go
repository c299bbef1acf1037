package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/tools"
	"github.com/teemow/inboxpilot/internal/workflow"
)

type fakeAPI struct {
	server   *httptest.Server
	requests atomic.Int32
	last     atomic.Pointer[openai.ChatCompletionRequest]
}

// newFakeAPI serves chat completions with handler; every request is decoded
// and kept for inspection.
func newFakeAPI(t *testing.T, handler func(n int32, w http.ResponseWriter)) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		api.last.Store(&req)
		w.Header().Set("Content-Type", "application/json")
		handler(api.requests.Add(1), w)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (api *fakeAPI) planner(t *testing.T) *OpenAIPlanner {
	t.Helper()
	p, err := NewOpenAIPlanner(Config{
		APIKey:     "test-key",
		BaseURL:    api.server.URL + "/v1",
		Model:      "gpt-4o-mini",
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func respond(w http.ResponseWriter, msg map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{"index": 0, "message": msg, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
	})
}

func fail(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": http.StatusText(status), "type": "server_error"},
	})
}

var searchTool = tools.Descriptor{
	Name:        "gmail_search_messages",
	Description: "Search the mailbox",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
}

func TestPlan_ToolCalls(t *testing.T) {
	api := newFakeAPI(t, func(_ int32, w http.ResponseWriter) {
		respond(w, map[string]any{
			"role": "assistant",
			"tool_calls": []map[string]any{{
				"id":       "call_abc",
				"type":     "function",
				"function": map[string]any{"name": "gmail_search_messages", "arguments": `{"query":"is:unread"}`},
			}},
		})
	})

	plan, err := api.planner(t).Plan(context.Background(), workflow.PlanRequest{
		ThreadID: "t1",
		UserID:   "alice",
		Messages: []workflow.Message{
			{Role: workflow.RoleUser, Content: "anything new?"},
			{Role: workflow.RoleAssistant, ToolCalls: []tools.Request{{ToolCallID: "call_0", ToolName: "gmail_search_messages"}}},
			{Role: workflow.RoleTool, ToolCallID: "call_0", Name: "gmail_search_messages", Content: "nothing"},
		},
		Tools: []tools.Descriptor{searchTool, {Name: "ask_human"}},
	})
	require.NoError(t, err)

	assert.Empty(t, plan.Content)
	require.Len(t, plan.ToolCalls, 1)
	assert.Equal(t, tools.Request{
		ToolCallID: "call_abc",
		ToolName:   "gmail_search_messages",
		Args:       map[string]any{"query": "is:unread"},
	}, plan.ToolCalls[0])

	sent := api.last.Load()
	require.NotNil(t, sent)
	assert.Equal(t, "gpt-4o-mini", sent.Model)
	require.Len(t, sent.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, sent.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, sent.Messages[0].Content)
	require.Len(t, sent.Messages[2].ToolCalls, 1)
	assert.Equal(t, "call_0", sent.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "{}", sent.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_0", sent.Messages[3].ToolCallID)
	assert.Equal(t, "nothing", sent.Messages[3].Content)

	require.Len(t, sent.Tools, 2)
	assert.Equal(t, "gmail_search_messages", sent.Tools[0].Function.Name)
	params, ok := sent.Tools[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"query"}, params["required"])
	params, ok = sent.Tools[1].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"], "a tool without a schema gets an empty object schema")
}

func TestPlan_FinalAnswer(t *testing.T) {
	api := newFakeAPI(t, func(_ int32, w http.ResponseWriter) {
		respond(w, map[string]any{"role": "assistant", "content": "Inbox zero."})
	})

	plan, err := api.planner(t).Plan(context.Background(), workflow.PlanRequest{
		Messages: []workflow.Message{{Role: workflow.RoleUser, Content: "status?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Inbox zero.", plan.Content)
	assert.Empty(t, plan.ToolCalls)
	assert.Empty(t, api.last.Load().Tools)
}

func TestPlan_RetriesTransientFailures(t *testing.T) {
	api := newFakeAPI(t, func(n int32, w http.ResponseWriter) {
		switch n {
		case 1:
			fail(w, http.StatusTooManyRequests)
		case 2:
			fail(w, http.StatusBadGateway)
		default:
			respond(w, map[string]any{"role": "assistant", "content": "ok"})
		}
	})

	plan, err := api.planner(t).Plan(context.Background(), workflow.PlanRequest{
		Messages: []workflow.Message{{Role: workflow.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", plan.Content)
	assert.EqualValues(t, 3, api.requests.Load())
}

func TestPlan_GivesUpAfterMaxRetries(t *testing.T) {
	api := newFakeAPI(t, func(_ int32, w http.ResponseWriter) {
		fail(w, http.StatusServiceUnavailable)
	})

	_, err := api.planner(t).Plan(context.Background(), workflow.PlanRequest{
		Messages: []workflow.Message{{Role: workflow.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.EqualValues(t, DefaultMaxRetries, api.requests.Load())
}

func TestPlan_DoesNotRetryClientErrors(t *testing.T) {
	api := newFakeAPI(t, func(_ int32, w http.ResponseWriter) {
		fail(w, http.StatusUnauthorized)
	})

	_, err := api.planner(t).Plan(context.Background(), workflow.PlanRequest{
		Messages: []workflow.Message{{Role: workflow.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatusCode)
	assert.EqualValues(t, 1, api.requests.Load())
}

func TestPlan_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
	}{
		{
			name: "arguments are not JSON",
			msg: map[string]any{"role": "assistant", "tool_calls": []map[string]any{{
				"id": "c", "type": "function",
				"function": map[string]any{"name": "gmail_search_messages", "arguments": "{query"},
			}}},
		},
		{
			name: "tool call without a name",
			msg: map[string]any{"role": "assistant", "tool_calls": []map[string]any{{
				"id": "c", "type": "function", "function": map[string]any{"arguments": "{}"},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, func(_ int32, w http.ResponseWriter) { respond(w, tt.msg) })
			_, err := api.planner(t).Plan(context.Background(), workflow.PlanRequest{
				Messages: []workflow.Message{{Role: workflow.RoleUser, Content: "hi"}},
			})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestPlan_NoChoices(t *testing.T) {
	_, err := toPlan(openai.ChatCompletionResponse{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestNewOpenAIPlanner(t *testing.T) {
	_, err := NewOpenAIPlanner(Config{})
	assert.Error(t, err)

	p, err := NewOpenAIPlanner(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.config.Model)
	assert.Equal(t, DefaultMaxRetries, p.config.MaxRetries)

	var _ workflow.Planner = p
}
