package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
)

const httpInstrumentationName = "github.com/lexcounsel/memengine/internal/http"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// requestMetrics counts admin requests. A nil instrument is skipped, so a
// meter that fails to create one only loses that series.
type requestMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// newRequestMetrics creates the instruments on mp, or on the global meter
// provider when mp is nil.
func newRequestMetrics(mp metric.MeterProvider, logger *logging.Logger) *requestMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(httpInstrumentationName)
	logger = logging.OrNop(logger)
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "instrument unavailable", zap.String("instrument", name), zap.Error(err))
		}
	}

	var m requestMetrics
	var err error
	m.total, err = meter.Int64Counter("memengine.http.requests_total",
		metric.WithDescription("Admin HTTP requests by method, endpoint and status"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("memengine.http.request_duration_seconds",
		metric.WithDescription("Admin HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	warn("request_duration_seconds", err)

	m.inFlight, err = meter.Int64UpDownCounter("memengine.http.active_requests",
		metric.WithDescription("Admin HTTP requests in flight"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	return &m
}

func (m *requestMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		if m.inFlight != nil {
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)
		}

		err := next(c)

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("endpoint", normalizePath(c.Path())),
			attribute.Int("status", c.Response().Status),
		)
		if m.total != nil {
			m.total.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		return err
	}
}

// normalizePath labels unmatched routes "/". Registered routes are all
// static, so matched paths pass through.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
