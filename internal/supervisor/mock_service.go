// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

var errMockServiceFailure = errors.New("mock service failure")

// mockService is a suture.Service test double that counts how many times
// it was started and can be made to fail a fixed number of times before
// succeeding, to exercise suture's restart/backoff behavior.
type mockService struct {
	name      string
	starts    atomic.Int64
	failsLeft atomic.Int64
}

// NewMockService creates a mock suture.Service named name.
func NewMockService(name string) *mockService {
	return &mockService{name: name}
}

// SetFailCount makes the next n calls to Serve return an error immediately.
func (m *mockService) SetFailCount(n int64) {
	m.failsLeft.Store(n)
}

// StartCount returns how many times Serve has been invoked.
func (m *mockService) StartCount() int64 {
	return m.starts.Load()
}

func (m *mockService) Serve(ctx context.Context) error {
	m.starts.Add(1)

	if m.failsLeft.Load() > 0 {
		m.failsLeft.Add(-1)
		return errMockServiceFailure
	}

	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string {
	return m.name
}
