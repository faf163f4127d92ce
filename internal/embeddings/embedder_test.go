package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/lexcounsel/memengine/internal/logging"
)

// fakeLC is a langchaingo embeddings.Embedder with scripted output.
type fakeLC struct {
	vec   []float32
	err   error
	calls int
	last  string
}

func (f *fakeLC) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeLC) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.last = text
	return f.vec, f.err
}

func newTestAdapter(t *testing.T, inner *fakeLC, dim int, opts ...AdapterOption) *Adapter {
	t.Helper()
	opts = append([]AdapterOption{WithLogger(logging.NewFromZap(zaptest.NewLogger(t)))}, opts...)
	a, err := NewAdapter(inner, "fake", "fake-model", dim, opts...)
	require.NoError(t, err)
	return a
}

func TestAdapter_Embed(t *testing.T) {
	inner := &fakeLC{vec: []float32{0.1, 0.2, 0.3}}
	a := newTestAdapter(t, inner, 3)

	vec, err := a.Embed(context.Background(), "client prefers email")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "client prefers email", inner.last)
	assert.Equal(t, 3, a.Dimension())
	assert.Equal(t, "fake-model", a.Model())
}

func TestAdapter_Errors(t *testing.T) {
	tests := []struct {
		name  string
		inner *fakeLC
		text  string
		want  error
		calls int
	}{
		{"empty input", &fakeLC{vec: []float32{1, 2, 3}}, "   ", ErrEmptyInput, 0},
		{"provider failure", &fakeLC{err: errors.New("connection refused")}, "x", ErrEmbeddingUnavailable, 1},
		{"empty vector", &fakeLC{vec: nil}, "x", ErrEmptyResult, 1},
		{"wrong dimension", &fakeLC{vec: []float32{1, 2}}, "x", ErrDimensionMismatch, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, tt.inner, 3)
			_, err := a.Embed(context.Background(), tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.calls, tt.inner.calls, "no retry inside the adapter")
		})
	}
}

func TestAdapter_CanceledContextWinsOverProviderError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestAdapter(t, &fakeLC{err: errors.New("request canceled")}, 3)
	_, err := a.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_RateLimit(t *testing.T) {
	inner := &fakeLC{vec: []float32{1, 2, 3}}
	a := newTestAdapter(t, inner, 3, WithRateLimit(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Embed(ctx, "first")
	require.NoError(t, err)

	// The bucket is empty and refills after one second, beyond the deadline.
	_, err = a.Embed(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestNewAdapter_Validation(t *testing.T) {
	_, err := NewAdapter(nil, "fake", "m", 3)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)

	_, err = NewAdapter(&fakeLC{}, "fake", "m", 0)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestNewProvider(t *testing.T) {
	logger := logging.NewFromZap(zaptest.NewLogger(t))

	t.Run("openai without key", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "openai"}, logger)
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("openai defaults", func(t *testing.T) {
		a, err := NewProvider(ProviderConfig{APIKey: "sk-test"}, logger)
		require.NoError(t, err)
		assert.Equal(t, DefaultOpenAIDimension, a.Dimension())
		assert.Equal(t, DefaultOpenAIModel, a.Model())
	})

	t.Run("tei requires base url", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "tei", Model: "BAAI/bge-small-en-v1.5"}, logger)
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("tei", func(t *testing.T) {
		a, err := NewProvider(ProviderConfig{Provider: "tei", Model: "BAAI/bge-small-en-v1.5", BaseURL: "http://localhost:8080/v1"}, logger)
		require.NoError(t, err)
		assert.Equal(t, 384, a.Dimension())
	})

	t.Run("ollama", func(t *testing.T) {
		a, err := NewProvider(ProviderConfig{Provider: "ollama", Model: "nomic-embed-text", BaseURL: "http://localhost:11434"}, logger)
		require.NoError(t, err)
		assert.Equal(t, 768, a.Dimension())
	})

	t.Run("unknown model needs explicit dimension", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "tei", Model: "custom", BaseURL: "http://x"}, logger)
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "cohere", Dimension: 8}, logger)
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})
}

func TestAdapter_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inner := &fakeLC{vec: []float32{0.1, 0.2, 0.3}}

	ok := newTestAdapter(t, inner, 3, WithMetrics(NewMetrics(mp, nil)))
	_, err := ok.Embed(context.Background(), "first")
	require.NoError(t, err)

	wrongDim := newTestAdapter(t, inner, 4, WithMetrics(NewMetrics(mp, nil)))
	_, err = wrongDim.Embed(context.Background(), "second")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var calls uint64
	reasons := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					calls += dp.Count
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					reason, _ := dp.Attributes.Value(attribute.Key("reason"))
					reasons[reason.AsString()] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, uint64(2), calls)
	assert.Equal(t, map[string]int64{"dimension_mismatch": 1}, reasons)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Record(context.Background(), "fake", "fake-model", time.Millisecond, "provider_error")
}
