// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package config

import "time"

// HostTuning is the supervisor's own process tuning (spec §A.3): log
// level/format, the loopback bind host override, the readiness-probe
// back-off schedule, and the default persistence root. It is distinct
// from the per-instance Options (supervisor package), which embedders
// supply programmatically rather than through this file/env layer.
type HostTuning struct {
	Logging      LoggingConfig      `koanf:"logging"`
	Loopback     LoopbackConfig     `koanf:"loopback"`
	Persistence  PersistenceConfig  `koanf:"persistence"`
	ProbeBackoff ProbeBackoffConfig `koanf:"probe_backoff"`
}

// LoggingConfig controls the host process's own structured-logging output,
// independent of anything a worker logs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LoopbackConfig overrides the host address the loopback server (spec
// §4.2) binds to. Workers always reach it over loopback; this only
// matters when the host machine has multiple loopback-reachable
// interfaces (e.g. containers binding 0.0.0.0).
type LoopbackConfig struct {
	Host string `koanf:"host"`
}

// PersistenceConfig names the default root directory under which KV/R2/D1/
// Durable Object/cache persistence adapters store their state when a
// worker's persistence isn't explicitly configured (spec §7 "Persistence").
type PersistenceConfig struct {
	Root string `koanf:"root"`
}

// ProbeBackoffConfig overrides the readiness-probe back-off schedule
// (spec §4.1 step 6: "10ms x10, 50ms x10, 100ms x10, then steady").
// Validate rejects negative attempt counts, a non-positive interval for
// any band with attempts, and a non-positive steady interval.
type ProbeBackoffConfig struct {
	FastInterval   time.Duration `koanf:"fast_interval"`
	FastAttempts   int           `koanf:"fast_attempts"`
	MediumInterval time.Duration `koanf:"medium_interval"`
	MediumAttempts int           `koanf:"medium_attempts"`
	SlowInterval   time.Duration `koanf:"slow_interval"`
	SlowAttempts   int           `koanf:"slow_attempts"`
	SteadyInterval time.Duration `koanf:"steady_interval"`
}

// Schedule expands the fast/medium/slow bands into the flat attempt-delay
// slice internal/runtime.Prober consumes, mirroring probeSchedule's shape
// there but driven by configured counts instead of the fixed 10/10/10.
func (p ProbeBackoffConfig) Schedule() []time.Duration {
	sched := make([]time.Duration, 0, p.FastAttempts+p.MediumAttempts+p.SlowAttempts)
	for i := 0; i < p.FastAttempts; i++ {
		sched = append(sched, p.FastInterval)
	}
	for i := 0; i < p.MediumAttempts; i++ {
		sched = append(sched, p.MediumInterval)
	}
	for i := 0; i < p.SlowAttempts; i++ {
		sched = append(sched, p.SlowInterval)
	}
	return sched
}
