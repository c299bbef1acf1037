package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrMap(attrs []slog.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[a.Key] = a.Value.String()
	}
	return out
}

func TestToolExecution_Builders(t *testing.T) {
	te := NewToolExecution("drive_share_file").
		WithUser("alice@example.com").
		WithProvider("google").
		WithCategory("REQUIRES_APPROVAL").
		WithThread("thread-1", "call-7").
		WithApproval("approve")

	assert.Equal(t, "drive_share_file", te.Tool)
	assert.Equal(t, "alice@example.com", te.UserID)
	assert.Equal(t, "google", te.Provider)
	assert.Equal(t, "REQUIRES_APPROVAL", te.Category)
	assert.Equal(t, "thread-1", te.ThreadID)
	assert.Equal(t, "call-7", te.ToolCallID)
	assert.Equal(t, "approve", te.Approval)
	assert.False(t, te.StartTime.IsZero())
}

func TestToolExecution_Complete(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		err       error
		wantError string
		succeeded bool
	}{
		{"success", StatusSuccess, nil, "", true},
		{"error", StatusError, errors.New("quota exceeded"), "quota exceeded", false},
		{"timeout", "timeout", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := NewToolExecution("gmail_send_message").Complete(tt.status, tt.err)
			assert.Equal(t, tt.status, te.Status)
			assert.Equal(t, tt.wantError, te.Error)
			assert.Equal(t, tt.succeeded, te.Succeeded())
			assert.GreaterOrEqual(t, int64(te.Duration), int64(0))
		})
	}
}

func TestToolExecution_LogAttrs_HashesUser(t *testing.T) {
	te := NewToolExecution("calendar_create_event").
		WithUser("alice@example.com").
		WithThread("thread-1", "").
		Complete(StatusError, errors.New("boom"))

	attrs := attrMap(te.LogAttrs())

	assert.Equal(t, "calendar_create_event", attrs["tool"])
	assert.Equal(t, StatusError, attrs["status"])
	assert.Equal(t, "boom", attrs["error"])
	assert.Equal(t, "thread-1", attrs["thread_id"])
	assert.NotContains(t, attrs, "user")
	assert.NotContains(t, attrs, "tool_call_id", "empty optional fields are omitted")
	for _, v := range attrs {
		assert.NotContains(t, v, "alice@example.com")
	}
}

func TestToolExecution_LogAuditAttrs_IncludesUser(t *testing.T) {
	te := NewToolExecution("gmail_send_message").
		WithUser("alice@example.com").
		Complete(StatusSuccess, nil)

	attrs := attrMap(te.LogAuditAttrs())
	assert.Equal(t, "alice@example.com", attrs["user"])
}

func TestToolExecution_WithSpanContext_NoSpan(t *testing.T) {
	te := NewToolExecution("gmail_search_messages").WithSpanContext(context.Background())
	assert.Empty(t, te.TraceID)
	assert.Empty(t, te.SpanID)
}

func TestAuditLogger_LogToolExecution(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		wantLevel string
		wantMsg   string
	}{
		{"success logs at info", StatusSuccess, "INFO", "tool_executed"},
		{"failure logs at warn", StatusError, "WARN", "tool_not_executed_successfully"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			al := NewAuditLogger(logger)

			al.LogToolExecution(NewToolExecution("docs_get_document").WithUser("bob@example.com").Complete(tt.status, nil))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantMsg, entry["msg"])
			assert.Equal(t, "audit", entry["log_type"])
			assert.Equal(t, "docs_get_document", entry["tool"])
			assert.NotContains(t, buf.String(), "bob@example.com")
		})
	}
}

func TestAuditLogger_IncludePII(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLoggerWithConfig(slog.New(slog.NewJSONHandler(&buf, nil)), AuditLoggingConfig{Enabled: true, IncludePII: true})

	al.LogToolExecution(NewToolExecution("gmail_send_message").WithUser("bob@example.com").Complete(StatusSuccess, nil))
	assert.Contains(t, buf.String(), "bob@example.com")
}

func TestAuditLogger_DisabledAndNil(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLoggerWithConfig(slog.New(slog.NewJSONHandler(&buf, nil)), AuditLoggingConfig{Enabled: false})
	al.LogToolExecution(NewToolExecution("gmail_send_message").Complete(StatusSuccess, nil))
	assert.Zero(t, buf.Len())

	var nilLogger *AuditLogger
	assert.NotPanics(t, func() {
		nilLogger.LogToolExecution(NewToolExecution("gmail_send_message"))
	})
}
