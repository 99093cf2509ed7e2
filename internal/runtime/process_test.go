// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package runtime

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestSpawn_StreamsOutputAndExits(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := Spawn(ctx, "sh", []string{"-c", "echo hello; read line; echo got:$line"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := p.PushConfig([]byte("world\n")); err != nil {
		t.Fatalf("PushConfig: %v", err)
	}

	select {
	case <-p.Exited():
	case <-time.After(3 * time.Second):
		t.Fatalf("process did not exit in time")
	}

	if err := p.ExitErr(); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestSpawn_FailsToStartOnMissingBinary(t *testing.T) {
	ctx := context.Background()
	_, err := Spawn(ctx, "/nonexistent-binary-for-test", nil)
	if err == nil {
		t.Fatalf("expected error spawning nonexistent binary")
	}
}

func TestKill_TerminatesLongRunningProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	ctx := context.Background()
	p, err := Spawn(ctx, "sleep", []string{"30"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case <-p.Exited():
	default:
		t.Fatalf("expected process to be exited after Kill")
	}
}
