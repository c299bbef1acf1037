package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds a Metrics recorder backed by a manual reader so
// recorded values can be collected and inspected.
func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()

	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/healthz", 200, 10*time.Millisecond)
	m.RecordHTTPRequest(ctx, "POST", "/v1/workflows", 500, 50*time.Millisecond)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["http_requests_total"]))
	assert.Contains(t, data, "http_request_duration_seconds")
}

func TestMetrics_RecordTokenRefresh(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordTokenRefresh(ctx, "google", RefreshResultSuccess, 200*time.Millisecond)
	m.RecordTokenRefresh(ctx, "google", RefreshResultPermanent, 0)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["oauth_token_refresh_total"]))

	hist, ok := data["oauth_token_refresh_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(1), count, "zero durations are not observed")
}

func TestMetrics_ClientCache(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordCacheRequest(ctx, CacheResultMiss)
	m.RecordCacheRequest(ctx, CacheResultHit)
	m.RecordCacheRequest(ctx, CacheResultShared)
	m.RecordCacheBuild(ctx, BuildResultPartial, time.Second)
	m.AddCacheEntries(ctx, 2)
	m.AddCacheEntries(ctx, -1)
	m.AddCacheEntries(ctx, 0)

	data := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, data["client_cache_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["client_cache_builds_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["client_cache_entries"]))
}

func TestMetrics_RecordToolExecution(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordToolExecution(ctx, "gmail_search_messages", "SAFE_PARALLEL", StatusSuccess, 100*time.Millisecond)
	m.RecordToolExecution(ctx, "acme_delete_doc", "REQUIRES_APPROVAL", "timeout", 2*time.Second)
	m.RecordBatchFallback(ctx)

	data := collect(t, reader)
	sum, ok := data["tool_executions_total"].(metricdata.Sum[int64])
	require.True(t, ok)

	labels := make(map[string]bool)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attrTool)
		labels[v.AsString()] = true
	}
	assert.True(t, labels["gmail_search_messages"])
	assert.True(t, labels["remote:acme"])
	assert.Equal(t, int64(1), sumOf(t, data["tool_batch_sequential_fallbacks_total"]))
}

func TestMetrics_Workflow(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.IncrementActiveRuns(ctx)
	m.IncrementActiveRuns(ctx)
	m.DecrementActiveRuns(ctx)
	m.RecordWorkflowRun(ctx, "completed")
	m.RecordWorkflowInterrupt(ctx, "raised")
	m.RecordWorkflowInterrupt(ctx, "approve")

	data := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, data["workflow_active_runs"]))
	assert.Equal(t, int64(1), sumOf(t, data["workflow_runs_total"]))
	assert.Equal(t, int64(2), sumOf(t, data["workflow_interrupts_total"]))
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	for _, m := range []*Metrics{nil, {}} {
		assert.NotPanics(t, func() {
			m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
			m.RecordTokenRefresh(ctx, "google", RefreshResultSuccess, time.Millisecond)
			m.RecordCacheRequest(ctx, CacheResultHit)
			m.RecordCacheBuild(ctx, BuildResultSuccess, time.Millisecond)
			m.AddCacheEntries(ctx, 1)
			m.RecordToolExecution(ctx, "gmail_send_message", "REQUIRES_APPROVAL", StatusSuccess, time.Millisecond)
			m.RecordBatchFallback(ctx)
			m.RecordWorkflowRun(ctx, "completed")
			m.RecordWorkflowInterrupt(ctx, "raised")
			m.IncrementActiveRuns(ctx)
			m.DecrementActiveRuns(ctx)
		})
	}
}
