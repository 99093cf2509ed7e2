// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func reconfigurationDurationSamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	if err := ReconfigurationDuration.Write(&m); err != nil {
		t.Fatalf("reading duration histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordReconfiguration_AppliedObservesDuration(t *testing.T) {
	before := testutil.ToFloat64(ReconfigurationsTotal.WithLabelValues("applied"))
	beforeSamples := reconfigurationDurationSamples(t)
	RecordReconfiguration("applied", 50*time.Millisecond)
	after := testutil.ToFloat64(ReconfigurationsTotal.WithLabelValues("applied"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
	if got := reconfigurationDurationSamples(t); got != beforeSamples+1 {
		t.Fatalf("expected one duration observation, got %v -> %v", beforeSamples, got)
	}
}

func TestRecordReconfiguration_SupersededSkipsDuration(t *testing.T) {
	before := testutil.ToFloat64(ReconfigurationsTotal.WithLabelValues("superseded"))
	beforeSamples := reconfigurationDurationSamples(t)
	RecordReconfiguration("superseded", 50*time.Millisecond)
	after := testutil.ToFloat64(ReconfigurationsTotal.WithLabelValues("superseded"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
	if got := reconfigurationDurationSamples(t); got != beforeSamples {
		t.Fatalf("expected no duration observation, got %v -> %v", beforeSamples, got)
	}
}

func TestRecordProbeAttempt(t *testing.T) {
	before := testutil.ToFloat64(ProbeAttemptsTotal)
	RecordProbeAttempt()
	after := testutil.ToFloat64(ProbeAttemptsTotal)
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{599, "5xx"},
		{0, "other"},
	}
	for _, tt := range tests {
		if got := statusClass(tt.code); got != tt.want {
			t.Errorf("statusClass(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRecordLoopbackRequest(t *testing.T) {
	before := testutil.ToFloat64(LoopbackRequestsTotal.WithLabelValues("kv", "2xx"))
	RecordLoopbackRequest("kv", 200, 10*time.Millisecond)
	after := testutil.ToFloat64(LoopbackRequestsTotal.WithLabelValues("kv", "2xx"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordCacheHitMissPurge(t *testing.T) {
	beforeHit := testutil.ToFloat64(CacheOperationsTotal.WithLabelValues("hit"))
	beforeMiss := testutil.ToFloat64(CacheOperationsTotal.WithLabelValues("miss"))
	beforePurge := testutil.ToFloat64(CacheOperationsTotal.WithLabelValues("purge"))

	RecordCacheHit()
	RecordCacheMiss()
	RecordCachePurge()

	if got := testutil.ToFloat64(CacheOperationsTotal.WithLabelValues("hit")); got != beforeHit+1 {
		t.Fatalf("hit counter = %v, want %v", got, beforeHit+1)
	}
	if got := testutil.ToFloat64(CacheOperationsTotal.WithLabelValues("miss")); got != beforeMiss+1 {
		t.Fatalf("miss counter = %v, want %v", got, beforeMiss+1)
	}
	if got := testutil.ToFloat64(CacheOperationsTotal.WithLabelValues("purge")); got != beforePurge+1 {
		t.Fatalf("purge counter = %v, want %v", got, beforePurge+1)
	}
}

func TestRecordReloadFanOut(t *testing.T) {
	before := testutil.ToFloat64(ReloadFanOutTotal)
	RecordReloadFanOut()
	after := testutil.ToFloat64(ReloadFanOutTotal)
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

