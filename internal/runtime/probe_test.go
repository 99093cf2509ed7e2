// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitReady_SucceedsOnceVersionMatches(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		version := int64(0)
		if n >= 3 {
			version = 7
		}
		w.Header().Set(OptionsVersionHeader, strconv.FormatInt(version, 10))
	}))
	defer srv.Close()

	p := NewProber()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.WaitReady(ctx, srv.URL, 7, make(chan struct{}))
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected at least 3 probe attempts, got %d", calls)
	}
}

func TestWaitReady_ReturnsOnProcessExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(OptionsVersionHeader, "0")
	}))
	defer srv.Close()

	exited := make(chan struct{})
	close(exited)

	p := NewProber()
	err := p.WaitReady(context.Background(), srv.URL, 1, exited)
	if err == nil {
		t.Fatalf("expected error when process already exited")
	}
}

func TestWaitReady_ReturnsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(OptionsVersionHeader, "0")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber()
	err := p.WaitReady(ctx, srv.URL, 1, make(chan struct{}))
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}

func TestProbeSchedule_MatchesSpecBackoff(t *testing.T) {
	sched := probeSchedule()
	if len(sched) != 30 {
		t.Fatalf("expected 30 scheduled delays, got %d", len(sched))
	}
	for i := 0; i < 10; i++ {
		if sched[i] != 10*time.Millisecond {
			t.Fatalf("attempt %d: expected 10ms, got %v", i, sched[i])
		}
	}
	for i := 10; i < 20; i++ {
		if sched[i] != 50*time.Millisecond {
			t.Fatalf("attempt %d: expected 50ms, got %v", i, sched[i])
		}
	}
	for i := 20; i < 30; i++ {
		if sched[i] != 100*time.Millisecond {
			t.Fatalf("attempt %d: expected 100ms, got %v", i, sched[i])
		}
	}
}
