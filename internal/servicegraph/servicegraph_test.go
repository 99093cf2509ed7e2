// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package servicegraph

import (
	"strings"
	"testing"
)

func TestGraph_DeduplicatesByName_FirstWins(t *testing.T) {
	g := New()
	g.AddService(Service{Name: "svc", Kind: KindWorker, Address: "first"})
	g.AddService(Service{Name: "svc", Kind: KindWorker, Address: "second"})

	services := g.Services()
	if len(services) != 1 {
		t.Fatalf("expected 1 deduplicated service, got %d", len(services))
	}
	if services[0].Address != "first" {
		t.Fatalf("expected first definition to win, got %q", services[0].Address)
	}
}

func TestGraph_EncodeRoundTrip(t *testing.T) {
	g := New()
	g.AddService(Service{Name: "entry-worker", Kind: KindWorker})
	g.AddSocket("entry", "entry-worker")

	data, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"entry-worker"`) {
		t.Fatalf("expected encoded graph to mention entry-worker: %s", data)
	}
}

func TestGraph_EncodesQueueCyclesAsStringReferences(t *testing.T) {
	g := New()
	g.AddService(Service{
		Name: "consumer-a",
		Kind: KindWorker,
		Queues: []QueueBinding{
			{QueueName: "q1", IsConsumer: true, DeadLetterService: "consumer-b"},
		},
	})
	g.AddService(Service{
		Name: "consumer-b",
		Kind: KindWorker,
		Queues: []QueueBinding{
			{QueueName: "q2", IsConsumer: true, DeadLetterService: "consumer-a"},
		},
	})

	data, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"deadLetterServiceId":"consumer-b"`) {
		t.Fatalf("expected string dead-letter reference, got %s", data)
	}
}
