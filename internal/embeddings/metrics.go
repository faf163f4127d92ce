package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
)

const instrumentationName = "github.com/lexcounsel/memengine/internal/embeddings"

// Metrics records embedding latency and failures by provider and model.
type Metrics struct {
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// NewMetrics creates the instruments on mp, or on the global meter provider
// when mp is nil. An instrument that cannot be created is logged and skipped.
func NewMetrics(mp metric.MeterProvider, logger *logging.Logger) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	logger = logging.OrNop(logger)

	m := &Metrics{}
	var err error
	if m.duration, err = meter.Float64Histogram("memengine.embedding.duration_seconds",
		metric.WithDescription("Embedding call latency by provider and model"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		logger.Warn(context.Background(), "embedding duration histogram unavailable", zap.Error(err))
	}
	if m.failures, err = meter.Int64Counter("memengine.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by provider, model and reason"),
		metric.WithUnit("{error}"),
	); err != nil {
		logger.Warn(context.Background(), "embedding error counter unavailable", zap.Error(err))
	}
	return m
}

// Record observes one call. reason is empty on success.
func (m *Metrics) Record(ctx context.Context, provider, model string, d time.Duration, reason string) {
	if m == nil {
		return
	}
	base := attribute.NewSet(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributeSet(base))
	}
	if reason != "" && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributeSet(base), metric.WithAttributes(attribute.String("reason", reason)))
	}
}
