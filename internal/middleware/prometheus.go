// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/miniflare-tre/internal/metrics"
)

// PrometheusMetrics records loopback server request count/latency by
// plugin (spec §A.5), inferring the plugin label from the request path's
// first segment the same way handleDispatch resolves it for routing.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &metricsResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapper, r)

		metrics.RecordLoopbackRequest(pluginLabel(r.URL.Path), wrapper.statusCode, time.Since(start))
	})
}

// pluginLabel extracts "<plugin>" from "/<plugin>/<rest>", matching
// firstSegment in internal/loopback without importing it (avoids a
// middleware -> loopback import cycle).
func pluginLabel(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
