package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lexcounsel/memengine/internal/logging"
)

var (
	// ErrEmbeddingUnavailable covers provider misconfiguration (for example
	// a missing API key) and failed provider calls.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyResult indicates the provider returned no vector.
	ErrEmptyResult = errors.New("embedding provider returned an empty vector")

	// ErrEmptyInput indicates empty or whitespace-only text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrDimensionMismatch indicates a vector of unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the length of every vector returned by Embed.
	Dimension() int
}

// Adapter implements Embedder over a langchaingo embeddings.Embedder.
type Adapter struct {
	inner     lcembeddings.Embedder
	provider  string
	model     string
	dimension int
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *logging.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRateLimit paces calls to rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64) AdapterOption {
	return func(a *Adapter) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *logging.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = logging.OrNop(l).Named("embeddings") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter wraps inner. dimension must be the model's vector length.
func NewAdapter(inner lcembeddings.Embedder, provider, model string, dimension int, opts ...AdapterOption) (*Adapter, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingUnavailable)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0", ErrEmbeddingUnavailable)
	}
	a := &Adapter{
		inner:     inner,
		provider:  provider,
		model:     model,
		dimension: dimension,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(nil, a.logger)
	}
	return a, nil
}

// Dimension implements Embedder.
func (a *Adapter) Dimension() int { return a.dimension }

// Model returns the configured model name.
func (a *Adapter) Model() string { return a.model }

// Embed implements Embedder.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding rate limit: %w", err)
		}
	}

	start := time.Now()
	vec, err := a.inner.EmbedQuery(ctx, text)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		a.metrics.Record(ctx, a.provider, a.model, elapsed, "provider_error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Warn(ctx, "embedding call failed",
			zap.String("provider", a.provider),
			zap.String("model", a.model),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	case len(vec) == 0:
		a.metrics.Record(ctx, a.provider, a.model, elapsed, "empty_result")
		return nil, ErrEmptyResult
	case len(vec) != a.dimension:
		a.metrics.Record(ctx, a.provider, a.model, elapsed, "dimension_mismatch")
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), a.dimension)
	}

	a.metrics.Record(ctx, a.provider, a.model, elapsed, "")
	a.logger.Trace(ctx, "embedded text",
		zap.Int("text_len", len(text)),
		zap.Duration("elapsed", elapsed),
	)
	return vec, nil
}

var _ Embedder = (*Adapter)(nil)
