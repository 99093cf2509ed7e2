// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

/*
Package metrics instruments the supervisor and loopback server with
Prometheus collectors (spec §A.5), exposed by the loopback server at
/metrics via promhttp.Handler.

# Available metrics

	miniflare_reconfigurations_total           counter{outcome}           setOptions/new outcomes: applied, superseded, failed
	miniflare_reconfiguration_duration_seconds histogram                  dequeue-to-ready latency for applied reconfigurations
	miniflare_probe_attempts_total             counter                    readiness-probe HTTP attempts issued
	miniflare_loopback_requests_total          counter{plugin,status_class} loopback server requests
	miniflare_loopback_request_duration_seconds histogram{plugin}         loopback server request latency
	miniflare_cache_operations_total           counter{result}            cache plugin hit/miss/purge
	miniflare_reload_fanout_total              counter                    live-reload events fanned out

# Usage

	import "github.com/cloudflare/miniflare-tre/internal/metrics"

	start := time.Now()
	metrics.RecordProbeAttempt()
	// ... issue the probe request ...
	metrics.RecordReconfiguration("applied", time.Since(start))
*/
package metrics
