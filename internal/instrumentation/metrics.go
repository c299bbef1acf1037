package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrResult    = "result"
	attrTool      = "tool"
	attrProvider  = "provider"
	attrCategory  = "category"
	attrReason    = "termination_reason"
	attrInterrupt = "interrupt_type"
)

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	RefreshResultSuccess     = "success"
	RefreshResultRecoverable = "recoverable"
	RefreshResultPermanent   = "permanent"
	RefreshResultPersistFail = "persist_failed"

	CacheResultHit    = "hit"
	CacheResultMiss   = "miss"
	CacheResultShared = "shared"

	BuildResultSuccess = "success"
	BuildResultPartial = "partial"
	BuildResultEmpty   = "empty"
	BuildResultFailure = "failure"
)

// Metrics provides methods for recording observability metrics.
// A zero Metrics value is a valid no-op recorder.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Credential metrics
	tokenRefreshTotal    metric.Int64Counter
	tokenRefreshDuration metric.Float64Histogram

	// Client cache metrics
	cacheRequestsTotal metric.Int64Counter
	cacheBuildsTotal   metric.Int64Counter
	cacheBuildDuration metric.Float64Histogram
	cacheEntries       metric.Int64UpDownCounter

	// Tool execution metrics
	toolExecutionsTotal metric.Int64Counter
	toolDuration        metric.Float64Histogram
	batchFallbacksTotal metric.Int64Counter

	// Workflow metrics
	workflowRunsTotal       metric.Int64Counter
	workflowInterruptsTotal metric.Int64Counter
	activeRuns              metric.Int64UpDownCounter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.tokenRefreshDuration, err = meter.Float64Histogram(
		"oauth_token_refresh_duration_seconds",
		metric.WithDescription("OAuth token refresh round-trip duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_duration_seconds histogram: %w", err)
	}

	m.cacheRequestsTotal, err = meter.Int64Counter(
		"client_cache_requests_total",
		metric.WithDescription("Client cache lookups by result (hit, miss, shared)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client_cache_requests_total counter: %w", err)
	}

	m.cacheBuildsTotal, err = meter.Int64Counter(
		"client_cache_builds_total",
		metric.WithDescription("Client bundle builds by result"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client_cache_builds_total counter: %w", err)
	}

	m.cacheBuildDuration, err = meter.Float64Histogram(
		"client_cache_build_duration_seconds",
		metric.WithDescription("Client bundle build duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client_cache_build_duration_seconds histogram: %w", err)
	}

	m.cacheEntries, err = meter.Int64UpDownCounter(
		"client_cache_entries",
		metric.WithDescription("Number of cached client bundles"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client_cache_entries gauge: %w", err)
	}

	m.toolExecutionsTotal, err = meter.Int64Counter(
		"tool_executions_total",
		metric.WithDescription("Total number of tool executions by status"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_executions_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_execution_duration_seconds histogram: %w", err)
	}

	m.batchFallbacksTotal, err = meter.Int64Counter(
		"tool_batch_sequential_fallbacks_total",
		metric.WithDescription("Parallel batches retried sequentially after a systemic failure"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_batch_sequential_fallbacks_total counter: %w", err)
	}

	m.workflowRunsTotal, err = meter.Int64Counter(
		"workflow_runs_total",
		metric.WithDescription("Completed workflow runs by termination reason"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_runs_total counter: %w", err)
	}

	m.workflowInterruptsTotal, err = meter.Int64Counter(
		"workflow_interrupts_total",
		metric.WithDescription("Workflow interrupts raised and resumed"),
		metric.WithUnit("{interrupt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_interrupts_total counter: %w", err)
	}

	m.activeRuns, err = meter.Int64UpDownCounter(
		"workflow_active_runs",
		metric.WithDescription("Number of workflow runs currently streaming"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_active_runs gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTokenRefresh records an OAuth token refresh attempt.
// Result should be one of the RefreshResult* constants.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider, result string, duration time.Duration) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, provider),
		attribute.String(attrResult, result),
	}

	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.tokenRefreshDuration != nil && duration > 0 {
		m.tokenRefreshDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordCacheRequest records a client cache lookup ("hit", "miss" or "shared").
func (m *Metrics) RecordCacheRequest(ctx context.Context, result string) {
	if m == nil || m.cacheRequestsTotal == nil {
		return
	}
	m.cacheRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordCacheBuild records a bundle build with its outcome and duration.
func (m *Metrics) RecordCacheBuild(ctx context.Context, result string, duration time.Duration) {
	if m == nil || m.cacheBuildsTotal == nil || m.cacheBuildDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrResult, result))
	m.cacheBuildsTotal.Add(ctx, 1, attrs)
	m.cacheBuildDuration.Record(ctx, duration.Seconds(), attrs)
}

// AddCacheEntries adjusts the cached bundle gauge by delta.
func (m *Metrics) AddCacheEntries(ctx context.Context, delta int64) {
	if m == nil || m.cacheEntries == nil || delta == 0 {
		return
	}
	m.cacheEntries.Add(ctx, delta)
}

// RecordToolExecution records a tool execution with tool name, category,
// status, and duration.
//
// Parameters:
//   - toolName: Name of the tool (e.g., "gmail_search_messages")
//   - category: Safety category the executor used
//   - status: One of success, error, timeout, skipped
//   - duration: Time taken for the execution
func (m *Metrics) RecordToolExecution(ctx context.Context, toolName, category, status string, duration time.Duration) {
	if m == nil || m.toolExecutionsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, ToolLabel(toolName, m.detailedLabels)),
		attribute.String(attrCategory, category),
		attribute.String(attrStatus, status),
	}

	m.toolExecutionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBatchFallback counts a parallel batch that was retried sequentially.
func (m *Metrics) RecordBatchFallback(ctx context.Context) {
	if m == nil || m.batchFallbacksTotal == nil {
		return
	}
	m.batchFallbacksTotal.Add(ctx, 1)
}

// RecordWorkflowRun records a finished workflow run by termination reason.
func (m *Metrics) RecordWorkflowRun(ctx context.Context, reason string) {
	if m == nil || m.workflowRunsTotal == nil {
		return
	}
	m.workflowRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// RecordWorkflowInterrupt records an interrupt raised ("raised") or a
// decision applied to one (the decision type).
func (m *Metrics) RecordWorkflowInterrupt(ctx context.Context, interruptType string) {
	if m == nil || m.workflowInterruptsTotal == nil {
		return
	}
	m.workflowInterruptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrInterrupt, interruptType)))
}

// IncrementActiveRuns increments the active workflow run gauge.
func (m *Metrics) IncrementActiveRuns(ctx context.Context) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Add(ctx, 1)
}

// DecrementActiveRuns decrements the active workflow run gauge.
func (m *Metrics) DecrementActiveRuns(ctx context.Context) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Add(ctx, -1)
}
