// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package runtime

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/metrics"
)

// OptionsVersionHeader is the header the probe sends carrying the
// generation it expects the entry worker to have observed.
const OptionsVersionHeader = "MF-Options-Version"

// probeSchedule is the exact back-off schedule from spec §4.1 step 6:
// "10 ms × 10 attempts, 50 ms × 10, 100 ms × 10, then 1 s."
func probeSchedule() []time.Duration {
	sched := make([]time.Duration, 0, 31)
	for i := 0; i < 10; i++ {
		sched = append(sched, 10*time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		sched = append(sched, 50*time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		sched = append(sched, 100*time.Millisecond)
	}
	return sched // beyond this, WaitReady paces attempts with the steady 1s rate limiter
}

// Prober issues the readiness probe against the entry URL. It uses a
// dedicated client with keep-alive disabled (spec §9: "avoids connection
// reuse across process restarts") and wraps each attempt in a circuit
// breaker so a consistently refusing entry socket fails fast instead of
// hammering it, per the teacher's sony/gobreaker/v2 usage for upstream
// health gating.
type Prober struct {
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	schedule []time.Duration
	steady   *rate.Limiter
}

// NewProber builds a prober using the spec's fixed back-off schedule.
func NewProber() *Prober {
	return NewProberWithSchedule(probeSchedule(), 1*time.Second)
}

// NewProberWithSchedule builds a prober with a host-configured back-off
// schedule (spec §A.3: the probe back-off is one of the HostTuning-tunable
// settings). Once schedule is exhausted, successive delays are drawn from a
// rate.Limiter ticking at one event per steady interval rather than a flat
// constant, so a prolonged probe still paces itself against a single shared
// budget instead of sleeping the same duration unconditionally.
func NewProberWithSchedule(schedule []time.Duration, steady time.Duration) *Prober {
	transport := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: transport, Timeout: 2 * time.Second}

	settings := gobreaker.Settings{
		Name:        "runtime-readiness-probe",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
	}

	return &Prober{
		client:   client,
		breaker:  gobreaker.NewCircuitBreaker[*http.Response](settings),
		schedule: schedule,
		steady:   rate.NewLimiter(rate.Every(steady), 1),
	}
}

// WaitReady polls entryURL until it reports the given optionsVersion is
// in force, the child exits, or ctx is cancelled. Transient network
// errors (connection refused/reset, DNS failure, timeout) are treated as
// "not ready yet" rather than fatal — only ctx cancellation or the
// process-exit channel ends the loop early.
func (p *Prober) WaitReady(ctx context.Context, entryURL string, optionsVersion int64, exited <-chan struct{}) error {
	schedule := p.schedule
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return hosterr.ErrRuntimeExitedDuringProbe
		default:
		}

		ok, err := p.probeOnce(ctx, entryURL, optionsVersion)
		if err == nil && ok {
			return nil
		}

		var delay time.Duration
		if attempt < len(schedule) {
			delay = schedule[attempt]
		} else {
			delay = p.steady.Reserve().Delay()
		}
		attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return hosterr.ErrRuntimeExitedDuringProbe
		case <-time.After(delay):
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, entryURL string, optionsVersion int64) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entryURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set(OptionsVersionHeader, strconv.FormatInt(optionsVersion, 10))

	metrics.RecordProbeAttempt()
	resp, err := p.breaker.Execute(func() (*http.Response, error) {
		return p.client.Do(req) //nolint:bodyclose // closed immediately below
	})
	if err != nil {
		return false, fmt.Errorf("runtime: probe request: %w", err)
	}
	defer resp.Body.Close()

	observed, convErr := strconv.ParseInt(resp.Header.Get(OptionsVersionHeader), 10, 64)
	return convErr == nil && observed >= optionsVersion, nil
}
