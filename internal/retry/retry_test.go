package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lexcounsel/memengine/internal/logging"
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testOptions(t *testing.T, rec *recorder) Options {
	return Options{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Name:         t.Name(),
		Logger:       logging.NewFromZap(zaptest.NewLogger(t)),
		Sleep:        rec.sleep,
	}
}

func TestDo_NonRetryableFailsOnce(t *testing.T) {
	rec := &recorder{}
	calls := 0
	notFound := NewStatusError(http.StatusNotFound, errors.New("no such index"))

	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, notFound
	}, testOptions(t, rec))

	assert.Same(t, notFound, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_RateLimitedExhausts(t *testing.T) {
	rec := &recorder{}
	calls := 0
	limited := NewStatusError(http.StatusTooManyRequests, errors.New("slow down"))

	_, err := Do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", limited
	}, testOptions(t, rec))

	require.Error(t, err)
	assert.Same(t, limited, err, "last error is returned unchanged")
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, rec.delays)
	assert.Equal(t, float64(1), testutil.ToFloat64(exhaustedTotal.WithLabelValues(t.Name())))
}

func TestDo_RecoversAfterServerErrors(t *testing.T) {
	rec := &recorder{}
	calls := 0

	v, err := Do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", NewStatusError(http.StatusInternalServerError, errors.New("boom"))
		}
		return "ok", nil
	}, testOptions(t, rec))

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.Equal(t, float64(3), testutil.ToFloat64(attemptsTotal.WithLabelValues(t.Name())))
	assert.Equal(t, float64(2), testutil.ToFloat64(retriesTotal.WithLabelValues(t.Name())))
}

func TestDo_GRPCStatusClassification(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := DoErr(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return status.Error(codes.Unavailable, "connection reset")
		}
		return status.Error(codes.InvalidArgument, "bad vector")
	}, testOptions(t, rec))

	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 2, calls)
}

func TestDo_PlainErrorNotRetried(t *testing.T) {
	calls := 0
	err := DoErr(context.Background(), func(context.Context) error {
		calls++
		return errors.New("validation failed")
	}, testOptions(t, &recorder{}))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := testOptions(t, nil)
	opts.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := DoErr(ctx, func(context.Context) error {
		calls++
		return NewStatusError(http.StatusServiceUnavailable, nil)
	}, opts)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_RealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	opts := Options{MaxRetries: 3, InitialDelay: time.Minute, Name: t.Name()}
	start := time.Now()
	err := DoErr(ctx, func(context.Context) error {
		return NewStatusError(http.StatusBadGateway, nil)
	}, opts)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestOptions_ZeroMaxRetriesStillAttemptsOnce(t *testing.T) {
	calls := 0
	_ = DoErr(context.Background(), func(context.Context) error {
		calls++
		return NewStatusError(http.StatusServiceUnavailable, nil)
	}, Options{MaxRetries: 0, Sleep: (&recorder{}).sleep})
	assert.Equal(t, 1, calls)
}

func TestDelay(t *testing.T) {
	o := Options{InitialDelay: time.Second, MaxDelay: 60 * time.Second}
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for n, w := range want {
		assert.Equal(t, w*time.Second, o.Delay(n), "n=%d", n)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      int
		ok        bool
		retryable bool
	}{
		{"nil", nil, 0, false, false},
		{"plain", errors.New("x"), 0, false, false},
		{"status error", NewStatusError(503, nil), 503, true, true},
		{"wrapped status error", errors.Join(errors.New("ctx"), NewStatusError(429, nil)), 429, true, true},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, ""), 429, true, true},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, ""), 504, true, true},
		{"grpc internal", status.Error(codes.Internal, ""), 500, true, true},
		{"grpc not found", status.Error(codes.NotFound, ""), 404, true, false},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, ""), 401, true, false},
		{"grpc failed precondition", status.Error(codes.FailedPrecondition, ""), 412, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := StatusCode(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}
