package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "revdoc", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "revdoc", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// Operations counts document operations by op (create|read|update|delete)
	// and outcome (ok or the error kind).
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "revdoc", Name: "document_operations_total", Help: "Document operations by op and outcome."},
		[]string{"op", "outcome"},
	)
	Conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "revdoc", Name: "revision_conflicts_total", Help: "Mutations rejected because the expected revision did not match."},
		[]string{"op"},
	)
	Overrides = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "revdoc", Name: "revision_overrides_total", Help: "Mutations that went ahead under last-write-wins despite a stale revision."},
		[]string{"op"},
	)
	OperationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "revdoc", Name: "document_operation_seconds", Help: "Latency of document operations.", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	ArchiveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "revdoc", Name: "archive_failures_total", Help: "Removed documents that could not be archived."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(Operations)
	reg.MustRegister(Conflicts)
	reg.MustRegister(Overrides)
	reg.MustRegister(OperationSeconds)
	reg.MustRegister(ArchiveFailures)
}
