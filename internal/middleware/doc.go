// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

/*
Package middleware provides HTTP middleware for the loopback server.

This package implements infrastructure middleware for compression, request
latency tracking, request ID tagging, and Prometheus metrics. It is chained
via chi's Router.Use, so every exported middleware has the
func(http.Handler) http.Handler shape chi expects.

Key Components:

  - Compression: gzip/brotli/deflate negotiated from Accept-Encoding
  - Performance Monitor: request latency tracking with percentile calculations
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: per-plugin request count/latency instrumentation

Middleware Stack:

internal/loopback.Server.Handler wires these in chi:

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compression)
	r.Use(middleware.PrometheusMetrics)
	r.Use(perfMon.Middleware)

Usage Example - Compression:

	import "github.com/cloudflare/miniflare-tre/internal/middleware"

	r.Use(middleware.Compression)

	// Accept-Encoding: gzip, br, or deflate negotiates the response encoding

Usage Example - Performance Monitoring:

	perfMon := middleware.NewPerformanceMonitor(1000)
	r.Use(perfMon.Middleware)

	// Later, inspect per-route latency percentiles
	for _, stat := range perfMon.GetStats() {
	    fmt.Printf("%s p50=%dms p99=%dms\n", stat.Path, stat.P50Duration, stat.P99Duration)
	}

Usage Example - Request ID:

	r.Use(middleware.RequestID)

	// Access request ID in a downstream handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := middleware.GetRequestID(r.Context())
	    log.Printf("[%s] Processing request", requestID)
	}

Performance Characteristics:

  - Compression: 70-90% size reduction for JSON (text/json mime types)
  - Compression overhead: ~1-2ms for typical responses
  - Metrics overhead: <0.1ms per request
  - Request ID overhead: <0.01ms (UUID generation)
  - Performance monitor: mutex-guarded sliding window of latency samples

Compression Details:

The compression middleware:
  - Negotiates gzip, then br, then deflate from Accept-Encoding
  - Skips WebSocket upgrade requests entirely
  - Automatically sets Content-Encoding and clears Content-Length

Performance Monitor:

The performance monitor tracks:
  - Request count per endpoint (no error rate is computed)
  - Latency percentiles (p50, p95, p99)
  - Rolling window of 1000 most recent requests
  - Thread-safe concurrent access with RWMutex

Thread Safety:

All middleware components are thread-safe:
  - Compression uses per-request gzip writers
  - Performance monitor uses sync.RWMutex
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/loopback: the chi router these middleware are wired into
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
