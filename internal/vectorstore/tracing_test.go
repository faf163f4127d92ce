package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/lexcounsel/memengine/internal/telemetry"
)

func TestBackendSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	prev := tracer
	tracer = tt.Tracer("memengine/vectorstore")
	t.Cleanup(func() { tracer = prev })

	ctx := context.Background()
	b, err := NewChromemBackend(ChromemConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, b.CreateIndex(ctx, "legal-memories", 3, MetricCosine))
	_, err = b.DescribeIndex(ctx, "missing")
	require.ErrorIs(t, err, ErrIndexNotFound)

	tt.AssertSpanExists(t, "ChromemBackend.CreateIndex")
	tt.AssertSpanAttribute(t, "ChromemBackend.CreateIndex", "index", "legal-memories")
	assert.Equal(t, codes.Ok, tt.SpanByName("ChromemBackend.CreateIndex").Status().Code)

	describe := tt.SpanByName("ChromemBackend.DescribeIndex")
	require.NotNil(t, describe)
	assert.Equal(t, codes.Error, describe.Status().Code)
}
