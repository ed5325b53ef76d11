package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyDSNIsNoop(t *testing.T) {
	flush, err := Init(Config{})

	require.NoError(t, err)
	require.NotNil(t, flush)
	assert.NotPanics(t, flush)
}

func TestTracesSampler(t *testing.T) {
	sample := tracesSampler(0.25)

	assert.Equal(t, 0.25, sample(sentry.SamplingContext{}))

	root := &sentry.Span{Name: "POST /search"}
	assert.Equal(t, 0.25, sample(sentry.SamplingContext{Span: root}))

	probe := &sentry.Span{Name: "GET /health"}
	assert.Zero(t, sample(sentry.SamplingContext{Span: probe}))

	var parent sentry.SpanID
	parent[0] = 1
	sampledChild := &sentry.Span{Name: "qdrant.Query", ParentSpanID: parent, Sampled: sentry.SampledTrue}
	assert.Equal(t, 1.0, sample(sentry.SamplingContext{Span: sampledChild}))

	droppedChild := &sentry.Span{Name: "qdrant.Query", ParentSpanID: parent, Sampled: sentry.SampledFalse}
	assert.Zero(t, sample(sentry.SamplingContext{Span: droppedChild}))
}

func TestStartSpan_WithoutClient(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "RetrievalService.Search", SpanAttributes{
		ScopeID:   "cb-1",
		JobID:     "job-1",
		Operation: "search",
		Backend:   "pgvector",
	})
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.NotNil(t, sentry.SpanFromContext(ctx))

	assert.NotPanics(t, func() {
		span.SetTag("tier", "exact")
		span.SetData("results", 3)
		span.SetError(errors.New("boom"))
		span.SetError(nil)
		span.End()
	})
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "IndexingService.Reindex", SpanAttributes{})
	defer parent.End()

	_, child := StartSpan(ctx, "Batcher.Embed", SpanAttributes{})
	defer child.End()

	assert.Equal(t, parent.inner.SpanID, child.inner.ParentSpanID)
	assert.Equal(t, parent.inner.TraceID, child.inner.TraceID)
}

func TestNilSpanIsSafe(t *testing.T) {
	var span Span
	assert.NotPanics(t, func() {
		span.End()
		span.SetError(errors.New("boom"))
		span.SetData("k", 1)
		span.SetTag("k", "v")
	})
	assert.NotNil(t, span.Context())
}

func TestCaptureAndBreadcrumbWithoutClient(t *testing.T) {
	assert.NotPanics(t, func() {
		CaptureError(context.Background(), errors.New("boom"))
		AddBreadcrumb(context.Background(), "chunker", "skipped vendor/x.go")
	})
}
