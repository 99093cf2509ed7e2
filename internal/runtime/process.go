// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package runtime wraps the worker-runtime child process (spec §4.1
// steps 4-5, §6 "Worker-runtime transport"): spawning it with
// line-buffered stdout/stderr logging, pushing a generation's binary
// configuration to its stdin, and watching for exit.
//
// Grounded on the teacher's os/exec usage in internal/testinfra
// (command lifecycle: CommandContext, Start/Wait, captured output) and
// its zerolog logging conventions, generalized from a one-shot "docker
// info" probe into a long-lived supervised child with piped stdio.
package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/logging"
)

// Process supervises exactly one worker-runtime child process instance.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}
	exitErr error

	mu sync.Mutex
}

// Spawn starts the worker-runtime binary at path with args, wiring its
// stdin for config pushes and its stdout/stderr into line-buffered log
// events. Returns once the process has started; exit is observed
// asynchronously via Wait or Exited.
func Spawn(ctx context.Context, path string, args []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("runtime: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runtime: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("runtime: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", hosterr.ErrRuntimeFailedToStart, err)
	}

	p := &Process{cmd: cmd, stdin: stdin, exited: make(chan struct{})}

	go streamLines(stdout, func(line string) {
		logging.Info().Str("stream", "stdout").Msg(line)
	})
	go streamLines(stderr, func(line string) {
		logging.Warn().Str("stream", "stderr").Msg(line)
	})

	go func() {
		p.mu.Lock()
		p.exitErr = cmd.Wait()
		p.mu.Unlock()
		close(p.exited)
	}()

	return p, nil
}

// streamLines copies r line by line to emit, stopping silently at EOF or
// pipe closure (both expected on process exit).
func streamLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
}

// PushConfig writes a generation's serialized configuration to the
// child's stdin (spec §6: "a binary, capability-typed message pushed
// once per generation to the child's stdin").
func (p *Process) PushConfig(data []byte) error {
	_, err := p.stdin.Write(data)
	return err
}

// Exited returns a channel closed when the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the error Wait() returned, valid only after Exited()
// is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Kill sends a termination signal to the child and waits for exit.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	<-p.exited
	return nil
}
