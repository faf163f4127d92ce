package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	isolationViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memengine",
			Subsystem: "memory",
			Name:      "tenant_isolation_violations_total",
			Help:      "Matches discarded because their stored tenant differed from the caller",
		},
		[]string{"operation"},
	)

	secretsRedacted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memengine",
			Subsystem: "memory",
			Name:      "secrets_redacted_total",
			Help:      "Credential-like spans redacted from text before storage",
		},
	)
)
