package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// withSpanRecorder installs a recording tracer provider for the duration
// of the test.
func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithTool("gmail_send_message").
		WithCategory("REQUIRES_APPROVAL").
		WithProvider("google").
		WithUserHash("user:abc").
		WithThread("thread-1", 2).
		Build()

	set := attribute.NewSet(attrs...)

	v, ok := set.Value(SpanAttrTool)
	require.True(t, ok)
	assert.Equal(t, "gmail_send_message", v.AsString())

	v, ok = set.Value(SpanAttrIteration)
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())

	v, ok = set.Value(SpanAttrThreadID)
	require.True(t, ok)
	assert.Equal(t, "thread-1", v.AsString())
}

func TestSpanAttributeBuilder_SkipsEmptyValues(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithProvider("").
		WithUserHash("").
		Build()

	assert.Empty(t, attrs)
}

func TestStartToolSpan(t *testing.T) {
	recorder := withSpanRecorder(t)

	ctx, span := StartToolSpan(context.Background(), "drive_list_files",
		attribute.String(SpanAttrCategory, "SAFE_PARALLEL"))
	assert.NotEmpty(t, GetTraceID(ctx))
	SetSpanSuccess(span)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "tool.drive_list_files", ended[0].Name())
	assert.Equal(t, trace.SpanKindClient, ended[0].SpanKind())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
}

func TestStartSpan_SetSpanError(t *testing.T) {
	recorder := withSpanRecorder(t)

	_, span := StartSpan(context.Background(), "workflow.round")
	SetSpanError(span, errors.New("planner failed"))
	SetSpanError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "planner failed", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}
