package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/inboxpilot/internal/logging"
)

// ToolExecution captures one tool execution for audit logging.
//
// # Privacy Considerations
//
// UserID identifies the end user. General logs only carry its hash; the raw
// value is emitted only when the audit logger is configured with IncludePII.
type ToolExecution struct {
	Tool       string
	Provider   string
	Category   string
	UserID     string
	ThreadID   string
	ToolCallID string

	StartTime time.Time
	Duration  time.Duration
	Status    string
	Error     string

	// Approval is set when the call ran after a human decision
	Approval string

	TraceID string
	SpanID  string
}

// NewToolExecution creates a new ToolExecution with timing started.
func NewToolExecution(tool string) *ToolExecution {
	return &ToolExecution{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithUser sets the user identity.
func (te *ToolExecution) WithUser(userID string) *ToolExecution {
	te.UserID = userID
	return te
}

// WithProvider sets the provider that served the tool.
func (te *ToolExecution) WithProvider(provider string) *ToolExecution {
	te.Provider = provider
	return te
}

// WithCategory sets the safety category used for scheduling.
func (te *ToolExecution) WithCategory(category string) *ToolExecution {
	te.Category = category
	return te
}

// WithThread sets the workflow thread and tool call identifiers.
func (te *ToolExecution) WithThread(threadID, toolCallID string) *ToolExecution {
	te.ThreadID = threadID
	te.ToolCallID = toolCallID
	return te
}

// WithApproval records the human decision that released the call.
func (te *ToolExecution) WithApproval(decision string) *ToolExecution {
	te.Approval = decision
	return te
}

// WithSpanContext extracts trace context from the current span.
func (te *ToolExecution) WithSpanContext(ctx context.Context) *ToolExecution {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		te.TraceID = span.SpanContext().TraceID().String()
		te.SpanID = span.SpanContext().SpanID().String()
	}
	return te
}

// Complete marks the execution as settled with the given status.
func (te *ToolExecution) Complete(status string, err error) *ToolExecution {
	te.Duration = time.Since(te.StartTime)
	te.Status = status
	if err != nil {
		te.Error = err.Error()
	}
	return te
}

// Succeeded reports whether the execution finished with a success status.
func (te *ToolExecution) Succeeded() bool {
	return te.Status == StatusSuccess
}

// LogAttrs returns slog attributes with the user identifier hashed.
func (te *ToolExecution) LogAttrs() []slog.Attr {
	return te.attrs(false)
}

// LogAuditAttrs returns slog attributes including the raw user identifier.
//
// # Security Warning
//
// Ensure audit logs carrying these attributes are stored with appropriate
// access controls.
func (te *ToolExecution) LogAuditAttrs() []slog.Attr {
	return te.attrs(true)
}

func (te *ToolExecution) attrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", te.Tool),
		slog.String("status", te.Status),
		slog.Duration("duration", te.Duration),
	}
	if includePII {
		attrs = append(attrs, slog.String("user", te.UserID))
	} else if te.UserID != "" {
		attrs = append(attrs, logging.UserHash(te.UserID))
	}

	optional := []struct{ key, value string }{
		{"provider", te.Provider},
		{"category", te.Category},
		{"thread_id", te.ThreadID},
		{"tool_call_id", te.ToolCallID},
		{"approval", te.Approval},
		{"trace_id", te.TraceID},
		{"error", te.Error},
	}
	for _, kv := range optional {
		if kv.value != "" {
			attrs = append(attrs, slog.String(kv.key, kv.value))
		}
	}
	if includePII && te.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", te.SpanID))
	}
	return attrs
}

// AuditLogger provides structured audit logging for tool executions.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs (anonymized identifiers are used instead).
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("log_type", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolExecution logs a settled tool execution. Successful executions are
// logged at info, everything else at warn.
func (al *AuditLogger) LogToolExecution(te *ToolExecution) {
	if al == nil || !al.enabled || te == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = te.LogAuditAttrs()
	} else {
		attrs = te.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if te.Succeeded() {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_not_executed_successfully", args...)
	}
}
