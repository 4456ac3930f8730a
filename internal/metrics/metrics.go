// Package metrics exposes prometheus instrumentation for the secret core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts provider operations by provider, operation, and
	// outcome (hit, miss, error, ok).
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secretops_operations_total",
		Help: "Provider operations by provider, operation, and outcome.",
	}, []string{"provider", "operation", "outcome"})

	// Fallbacks counts reads answered by a provider other than the highest
	// priority one.
	Fallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secretops_fallbacks_total",
		Help: "Reads that fell through to a lower-priority provider.",
	})

	// Retries counts transient-failure retry attempts per provider.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secretops_retries_total",
		Help: "Retry attempts triggered by transient backend failures.",
	}, []string{"provider"})

	// CacheEvents counts cloud read-cache hits and misses per provider.
	CacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secretops_cache_events_total",
		Help: "Cloud provider read-cache events (hit, miss, bypass).",
	}, []string{"provider", "event"})
)
