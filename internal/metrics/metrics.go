// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the supervisor and loopback server (spec
// §A.5): reconfiguration count/latency, readiness-probe attempts,
// loopback request count/latency by plugin, cache hit/miss/purge counts,
// and live-reload fan-out count.
var (
	ReconfigurationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_reconfigurations_total",
			Help: "Total setOptions/new reconfigurations, by outcome.",
		},
		[]string{"outcome"}, // applied, superseded, failed
	)

	ReconfigurationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "miniflare_reconfiguration_duration_seconds",
			Help:    "Time from a reconfiguration being dequeued to its readiness probe completing.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProbeAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniflare_probe_attempts_total",
			Help: "Total readiness-probe HTTP attempts issued against the entry worker.",
		},
	)

	LoopbackRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_loopback_requests_total",
			Help: "Total requests handled by the loopback server, by plugin and status class.",
		},
		[]string{"plugin", "status_class"},
	)

	LoopbackRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "miniflare_loopback_request_duration_seconds",
			Help:    "Loopback server request latency, by plugin.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_cache_operations_total",
			Help: "Total cache plugin operations, by result.",
		},
		[]string{"result"}, // hit, miss, purge
	)

	ReloadFanOutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniflare_reload_fanout_total",
			Help: "Total live-reload events fanned out to connected WebSocket clients.",
		},
	)
)

// RecordReconfiguration observes one setOptions/new outcome. duration is
// only meaningful (and only observed) for "applied" outcomes; a
// superseded or failed generation never reaches a stable latency.
func RecordReconfiguration(outcome string, duration time.Duration) {
	ReconfigurationsTotal.WithLabelValues(outcome).Inc()
	if outcome == "applied" {
		ReconfigurationDuration.Observe(duration.Seconds())
	}
}

// RecordProbeAttempt increments the readiness-probe attempt counter.
func RecordProbeAttempt() {
	ProbeAttemptsTotal.Inc()
}

// statusClass buckets an HTTP status code into its class so dashboards
// group by 2xx/4xx/5xx instead of exploding the label cardinality per
// status code.
func statusClass(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "5xx"
	case statusCode >= 400:
		return "4xx"
	case statusCode >= 300:
		return "3xx"
	case statusCode >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// RecordLoopbackRequest observes one loopback-server request, keyed by the
// plugin name that served it ("" for custom-service or unmatched
// dispatch).
func RecordLoopbackRequest(plugin string, statusCode int, duration time.Duration) {
	LoopbackRequestsTotal.WithLabelValues(plugin, statusClass(statusCode)).Inc()
	LoopbackRequestDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

// RecordCacheHit records a cache plugin lookup that found a fresh entry.
func RecordCacheHit() {
	CacheOperationsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache plugin lookup that found no entry, or a
// stale one.
func RecordCacheMiss() {
	CacheOperationsTotal.WithLabelValues("miss").Inc()
}

// RecordCachePurge records a cache plugin purge operation.
func RecordCachePurge() {
	CacheOperationsTotal.WithLabelValues("purge").Inc()
}

// RecordReloadFanOut increments once per Hub.Reload() call, not once per
// connected client.
func RecordReloadFanOut() {
	ReloadFanOutTotal.Inc()
}
