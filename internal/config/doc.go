// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

/*
Package config loads the host process's own tuning, HostTuning, as
distinct from the Options a supervisor instance is configured with.
Workers and their bindings are always supplied programmatically by the
embedder (spec §3); this package only covers settings about the host
process itself: log level/format, the loopback bind host override, the
readiness-probe back-off schedule, and the default persistence root.

# Configuration Sources

LoadWithKoanf applies three layers in increasing priority:

  - Defaults: the built-in values in defaultConfig
  - Config file: an optional YAML file, found via DefaultConfigPaths or
    the MINIFLARE_CONFIG_PATH environment variable
  - Environment variables: MF_-prefixed, highest priority

# Environment Variables

	MF_LOG_LEVEL             logging level: trace, debug, info, warn, error (default: info)
	MF_LOG_FORMAT            logging format: json, console (default: console)
	MF_LOOPBACK_HOST         loopback server bind host (default: 127.0.0.1)
	MF_PERSISTENCE_ROOT      default persistence root directory (default: .miniflare/persist)
	MF_PROBE_FAST_INTERVAL   readiness-probe fast-band interval (default: 10ms)
	MF_PROBE_FAST_ATTEMPTS   readiness-probe fast-band attempt count (default: 10)
	MF_PROBE_MEDIUM_INTERVAL readiness-probe medium-band interval (default: 50ms)
	MF_PROBE_MEDIUM_ATTEMPTS readiness-probe medium-band attempt count (default: 10)
	MF_PROBE_SLOW_INTERVAL   readiness-probe slow-band interval (default: 100ms)
	MF_PROBE_SLOW_ATTEMPTS   readiness-probe slow-band attempt count (default: 10)
	MF_PROBE_STEADY_INTERVAL readiness-probe steady-state interval once bands are exhausted (default: 1s)

# Usage

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatalf("loading host tuning: %v", err)
	}
	prober := runtime.NewProberWithSchedule(cfg.ProbeBackoff.Schedule(), cfg.ProbeBackoff.SteadyInterval)

# Hot reload

WatchConfigFile watches a config file path and invokes a callback on
each change; the caller owns synchronizing the reloaded HostTuning
against whatever readers use it concurrently.
*/
package config
