// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for inboxpilot.
//
// # Metrics
//
//   - oauth_token_refresh_total / oauth_token_refresh_duration_seconds
//   - client_cache_requests_total, client_cache_builds_total,
//     client_cache_build_duration_seconds, client_cache_entries
//   - tool_executions_total, tool_execution_duration_seconds,
//     tool_batch_sequential_fallbacks_total
//   - workflow_runs_total, workflow_interrupts_total, workflow_active_runs
//   - http_requests_total, http_request_duration_seconds
//
// Every Record* method is safe on a nil or zero *Metrics, so components can
// be constructed without instrumentation in tests.
//
// # Configuration
//
// Configuration is read from the environment by DefaultConfig:
//
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint
//   - OTEL_SERVICE_NAME: Service name (default: inboxpilot)
//   - METRICS_DETAILED_LABELS: use remote tool names verbatim as labels
//
// # Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordToolExecution(ctx, "gmail_search_messages", "SAFE_PARALLEL", "success", elapsed)
package instrumentation
