// Package metrics defines the Prometheus collectors exported by the web host.
//
// All metrics are registered with the default registry on import and served by
// the optional metrics listener (server.metrics_addr).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts completed requests.
	// Labels:
	//   - method: HTTP method
	//   - route: endpoint display name, or "unmatched"
	//   - status: response status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "education",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration measures request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "education",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// UnhandledExceptions counts errors and panics caught by the exception stages.
	// Labels:
	//   - kind: "panic" or "error"
	UnhandledExceptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "education",
			Subsystem: "http",
			Name:      "unhandled_exceptions_total",
			Help:      "Total number of unhandled endpoint errors and panics",
		},
		[]string{"kind"},
	)

	// PanicsRecovered counts panics that escaped the application pipeline
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "education",
			Subsystem: "http",
			Name:      "panics_recovered_total",
			Help:      "Total number of panics recovered at the host level",
		},
		[]string{"method"},
	)

	// SignInAttempts counts password sign-ins by outcome.
	// Labels:
	//   - result: "Succeeded", "Failed", "Lockedout", "NotAllowed" or "RateLimited"
	SignInAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "education",
			Subsystem: "identity",
			Name:      "sign_in_attempts_total",
			Help:      "Total number of password sign-in attempts",
		},
		[]string{"result"},
	)

	// AccountsRegistered counts accounts created through registration
	AccountsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "education",
			Subsystem: "identity",
			Name:      "accounts_registered_total",
			Help:      "Total number of accounts created through the register page",
		},
	)
)
