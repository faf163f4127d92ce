package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memengine",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total operation attempts, including first attempts",
		},
		[]string{"operation"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memengine",
			Subsystem: "retry",
			Name:      "retries_total",
			Help:      "Total retries scheduled after a 429 or 5xx failure",
		},
		[]string{"operation"},
	)

	exhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memengine",
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Total operations that failed after using every attempt",
		},
		[]string{"operation"},
	)
)
