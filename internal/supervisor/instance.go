// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package supervisor implements the top-level Supervisor (spec §4.1): the
// object that owns the worker-runtime child process, the loopback server,
// and all reconfiguration. It composes internal/runtime (process spawn +
// readiness probe), internal/servicegraph (binary config assembly), and
// internal/websocket (live-reload fan-out).
//
// Grounded on the teacher's Tree (suture-based lifecycle): the loopback
// HTTP+WebSocket server runs as a suture.Service under Tree's
// loopback-layer supervisor, so its lifecycle, crash logging, and graceful
// shutdown go through the same machinery the teacher uses for its API and
// messaging services. The worker-runtime child process is deliberately
// NOT a suture service: suture restarts a crashed service unconditionally,
// but reconfiguration here must serialize arbitrary setOptions calls in
// submission order and detect superseded ones — semantics suture's
// supervisor tree does not model, so the runtime process is managed
// directly by the hand-rolled FIFO mutex below instead.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/do"
	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/logging"
	"github.com/cloudflare/miniflare-tre/internal/metrics"
	"github.com/cloudflare/miniflare-tre/internal/runtime"
	"github.com/cloudflare/miniflare-tre/internal/servicegraph"
	"github.com/cloudflare/miniflare-tre/internal/supervisor/services"
	"github.com/cloudflare/miniflare-tre/internal/websocket"
)

// WorkerOptions describes one worker's script and bindings, enough to
// produce one servicegraph.Service entry.
type WorkerOptions struct {
	Name              string `validate:"required"`
	CompatibilityDate string `validate:"required,datetime=2006-01-02"`
	Bindings          []servicegraph.Binding
	Queues            []servicegraph.QueueBinding
	DurableObjects    []do.Binding
}

// SharedOptions are settings common to the whole instance rather than any
// one worker.
type SharedOptions struct {
	Host                  string `validate:"omitempty,hostname_rfc1123|ip"` // default 127.0.0.1
	EntryPort             int    `validate:"gte=0,lte=65535"`               // 0 = auto-discover
	PersistenceConfigured bool
	RuntimeBinaryPath     string `validate:"required"`
	RuntimeArgs           []string
}

// Options is the full setOptions/new argument: shared settings plus the
// set of worker definitions.
type Options struct {
	Shared  SharedOptions
	Workers []WorkerOptions `validate:"required,min=1,dive"`
}

// optionsValidator struct-tag validates Options per spec §A.2, matching
// the teacher's use of go-playground/validator for request-shaped types.
var optionsValidator = validator.New()

func (o Options) validate(now time.Time) error {
	if len(o.Workers) == 0 {
		return hosterr.ErrNoWorkersDefined
	}
	if err := optionsValidator.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", hosterr.ErrInvalidOptions, err)
	}
	seen := make(map[string]bool, len(o.Workers))
	for _, w := range o.Workers {
		if seen[w.Name] {
			return fmt.Errorf("%w: %s", hosterr.ErrDuplicateWorkerName, w.Name)
		}
		seen[w.Name] = true
		if err := do.ValidatePersistence(w.DurableObjects, o.Shared.PersistenceConfigured); err != nil {
			return err
		}
		if d, err := time.Parse("2006-01-02", w.CompatibilityDate); err == nil && d.After(now) {
			return fmt.Errorf("%w: %s", hosterr.ErrCompatibilityDateInFuture, w.Name)
		}
	}
	return nil
}

// reconfigureRequest is one queued setOptions/new call.
type reconfigureRequest struct {
	opts Options
	done chan error
}

// Supervisor is the top-level instance described in spec §4.1. Zero value
// is not usable; build with New.
type Supervisor struct {
	// runtime mutex: a FIFO queue (buffered, 64 deep) drained by the single
	// loop goroutine. Only one reconfigure runs at a time.
	reqCh chan reconfigureRequest

	mu sync.Mutex
	// hasWaiting reports whether another reconfigure request was already
	// queued by the time the in-flight one's readiness probe completed.
	// apply sets it right before the ready/reload decision — not at
	// dequeue, since the probe itself can run for seconds during which a
	// newer request races in — and loop reads it back afterward for the
	// reconfiguration-outcome metric.
	hasWaiting     bool
	optionsVersion int64
	entryURL       string
	disposed       bool
	ready          chan struct{}
	readyErr       error
	readyOnce      sync.Once

	clk clock.Clock

	proc         *runtime.Process
	prober       *runtime.Prober
	loopbackSrv  *http.Server
	loopbackLn   net.Listener
	reloadHub    *websocket.Hub

	tree      *Tree
	treeErrCh <-chan error

	rootCtx    context.Context
	cancelRoot context.CancelFunc

	wg sync.WaitGroup
}

// New constructs a Supervisor and begins applying opts asynchronously.
// Ready() resolves once initialization completes (success or failure).
func New(ctx context.Context, handler http.Handler, opts Options) *Supervisor {
	rootCtx, cancel := context.WithCancel(ctx)

	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	if err != nil {
		// NewTree only fails on misconfiguration it cannot default its way
		// out of; DefaultTreeConfig never triggers that path.
		logging.Error().Err(err).Msg("supervisor: building suture tree")
	}

	s := &Supervisor{
		reqCh:      make(chan reconfigureRequest, 64),
		ready:      make(chan struct{}),
		clk:        clock.Real(),
		prober:     runtime.NewProber(),
		reloadHub:  websocket.NewHub(),
		tree:       tree,
		rootCtx:    rootCtx,
		cancelRoot: cancel,
	}
	s.treeErrCh = tree.ServeBackground(rootCtx)
	tree.AddLoopbackService(services.NewWebSocketHubService(s.reloadHub))

	s.wg.Add(1)
	go s.loop(handler)

	s.enqueue(opts)
	return s
}

// enqueue submits opts to the reconfiguration queue.
func (s *Supervisor) enqueue(opts Options) chan error {
	done := make(chan error, 1)
	s.reqCh <- reconfigureRequest{opts: opts, done: done}
	return done
}

// SetOptions enqueues a reconfiguration behind any in-flight one. The
// returned error channel receives exactly one value once this specific
// reconfiguration has been applied (or failed).
func (s *Supervisor) SetOptions(opts Options) <-chan error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		done := make(chan error, 1)
		done <- hosterr.ErrSupervisorDisposed
		return done
	}
	s.mu.Unlock()
	return s.enqueue(opts)
}

// loop is the single goroutine that owns the runtime mutex: it drains
// reqCh strictly in FIFO order, so at most one spawn/updateConfig is ever
// in flight.
func (s *Supervisor) loop(handler http.Handler) {
	defer s.wg.Done()
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case req, ok := <-s.reqCh:
			if !ok {
				return
			}
			s.mu.Lock()
			version := s.optionsVersion + 1
			s.mu.Unlock()

			start := time.Now()
			err := s.apply(req.opts, version, handler)

			s.mu.Lock()
			superseded := s.hasWaiting
			if err == nil {
				s.optionsVersion = version
			}
			s.mu.Unlock()
			metrics.RecordReconfiguration(reconfigureOutcome(err, superseded), time.Since(start))

			s.readyOnce.Do(func() {
				s.readyErr = err
				close(s.ready)
			})

			req.done <- err
			close(req.done)
		}
	}
}

// apply runs initialization/reconfiguration steps 1-7 of spec §4.1 for one
// generation. Whether this generation was superseded by a newer request
// queued during its own readiness probe is decided at the end, immediately
// before the ready/reload step; per spec §9, a superseded generation emits
// neither a "ready" log nor a live-reload fan-out.
func (s *Supervisor) apply(opts Options, version int64, handler http.Handler) error {
	if err := opts.validate(s.clk.Now()); err != nil {
		return err
	}

	if s.loopbackSrv == nil {
		if err := s.startLoopback(opts.Shared.Host, handler); err != nil {
			return err
		}
	}

	graph := buildServiceGraph(opts)
	configBytes, err := graph.Encode()
	if err != nil {
		return fmt.Errorf("supervisor: encode service graph: %w", err)
	}

	if s.proc == nil {
		proc, err := runtime.Spawn(s.rootCtx, opts.Shared.RuntimeBinaryPath, opts.Shared.RuntimeArgs)
		if err != nil {
			return err
		}
		s.proc = proc
	}

	if err := s.proc.PushConfig(configBytes); err != nil {
		return fmt.Errorf("supervisor: push config: %w", err)
	}

	entryURL := s.resolveEntryURL(opts.Shared)
	s.mu.Lock()
	s.entryURL = entryURL
	s.mu.Unlock()

	if err := s.prober.WaitReady(s.rootCtx, entryURL, version, s.proc.Exited()); err != nil {
		return err
	}

	s.mu.Lock()
	superseded := len(s.reqCh) > 0
	s.hasWaiting = superseded
	s.mu.Unlock()

	if !superseded {
		logging.Info().Int64("options_version", version).Str("entry_url", entryURL).Msg("ready")
		s.reloadHub.Reload()
		metrics.RecordReloadFanOut()
	}
	return nil
}

// reconfigureOutcome maps one apply() result to the outcome label spec
// §A.5 instruments reconfigurations by: "applied", "superseded" (a newer
// request was already queued before this one's probe finished), or
// "failed".
func reconfigureOutcome(err error, superseded bool) string {
	switch {
	case err != nil:
		return "failed"
	case superseded:
		return "superseded"
	default:
		return "applied"
	}
}

func (s *Supervisor) resolveEntryURL(shared SharedOptions) string {
	host := shared.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := shared.EntryPort
	if port == 0 {
		port = 8787
	}
	return fmt.Sprintf("http://%s:%d/", host, port)
}

func (s *Supervisor) startLoopback(host string, handler http.Handler) error {
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", host+":0")
	if err != nil {
		return fmt.Errorf("supervisor: loopback listen: %w", err)
	}
	s.loopbackLn = ln
	s.loopbackSrv = &http.Server{Handler: handler}
	s.tree.AddLoopbackService(newLoopbackService(ln, s.loopbackSrv))
	return nil
}

// LoopbackAddr returns the ephemeral address the loopback server bound to,
// empty until startLoopback has run.
func (s *Supervisor) LoopbackAddr() string {
	if s.loopbackLn == nil {
		return ""
	}
	return s.loopbackLn.Addr().String()
}

// ReloadHub exposes the live-reload hub for the loopback server's
// WebSocket upgrade route to attach clients to.
func (s *Supervisor) ReloadHub() *websocket.Hub {
	return s.reloadHub
}

// Ready blocks until the first setOptions/new call has been applied
// (successfully or not), returning that outcome's error.
func (s *Supervisor) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchFetch awaits readiness, rewrites req's URL host to the current
// entry URL, and forwards it via http.DefaultTransport-backed client.
func (s *Supervisor) DispatchFetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	disposed := s.disposed
	entryURL := s.entryURL
	s.mu.Unlock()
	if disposed {
		return nil, hosterr.ErrSupervisorDisposed
	}

	target, err := rewriteHost(req.URL.String(), entryURL)
	if err != nil {
		return nil, err
	}
	outReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, err
	}
	outReq.Header = req.Header.Clone()
	return http.DefaultClient.Do(outReq)
}

// Dispose aborts the readiness wait, terminates the child process, stops
// the loopback server, and releases all handles. Idempotent.
func (s *Supervisor) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	proc := s.proc
	s.mu.Unlock()

	s.cancelRoot()

	var firstErr error
	if proc != nil {
		if err := proc.Kill(); err != nil {
			firstErr = err
		}
	}

	// cancelRoot (above) already tore down the tree's ServeBackground
	// context, which stops loopbackService via context cancellation
	// (graceful http.Server.Shutdown) rather than a direct call here.
	if s.treeErrCh != nil {
		<-s.treeErrCh
	}

	close(s.reqCh)
	s.wg.Wait()
	return firstErr
}

func buildServiceGraph(opts Options) *servicegraph.Graph {
	g := servicegraph.New()
	for _, w := range opts.Workers {
		g.AddService(servicegraph.Service{
			Name:     w.Name,
			Kind:     servicegraph.KindWorker,
			Bindings: w.Bindings,
			Queues:   w.Queues,
		})
	}
	return g
}
