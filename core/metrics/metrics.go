// Package metrics holds the prometheus collectors of the app.
// They are registered on the default registry, exposed by the debug server under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Name:      "gate_decisions_total",
		Help:      "Access gate decisions by outcome.",
	}, []string{"outcome"})

	EnrolmentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Name:      "enrolment_attempts_total",
		Help:      "Enrolment attempts by result code (ok on success).",
	}, []string{"result"})

	UpstreamLookups = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lms",
		Name:      "upstream_lookup_seconds",
		Help:      "Latency of the signed HRMS/SIS lookups.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"service", "outcome"})
)
