// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Command miniflare-host is the process entrypoint: a thin wrapper that
// loads host tuning, builds the plugin gateways and their loopback
// routers, and wires them into one supervisor.Supervisor instance for
// the lifetime of the process.
//
// Worker definitions (spec §3: "supplied programmatically by the
// embedder") are read from a JSON file rather than hard-coded, so this
// binary doubles as a standalone local dev server: see -config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/cloudflare/miniflare-tre/internal/cache"
	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/config"
	"github.com/cloudflare/miniflare-tre/internal/d1"
	"github.com/cloudflare/miniflare-tre/internal/kv"
	"github.com/cloudflare/miniflare-tre/internal/loopback"
	"github.com/cloudflare/miniflare-tre/internal/logging"
	"github.com/cloudflare/miniflare-tre/internal/plugin"
	"github.com/cloudflare/miniflare-tre/internal/r2"
	"github.com/cloudflare/miniflare-tre/internal/storage"
	"github.com/cloudflare/miniflare-tre/internal/supervisor"
)

// fileOptions is the on-disk shape of -config: supervisor.Options plus
// the runtime binary path and args broken out for readability, since
// those are the fields a local dev invocation tunes most often.
type fileOptions struct {
	Host              string                     `json:"host"`
	EntryPort         int                        `json:"entryPort"`
	RuntimeBinaryPath string                     `json:"runtimeBinaryPath"`
	RuntimeArgs       []string                   `json:"runtimeArgs"`
	Persistence       bool                       `json:"persistenceConfigured"`
	Workers           []supervisor.WorkerOptions `json:"workers"`
}

func (f fileOptions) toOptions() supervisor.Options {
	return supervisor.Options{
		Shared: supervisor.SharedOptions{
			Host:                  f.Host,
			EntryPort:             f.EntryPort,
			PersistenceConfigured: f.Persistence,
			RuntimeBinaryPath:     f.RuntimeBinaryPath,
			RuntimeArgs:           f.RuntimeArgs,
		},
		Workers: f.Workers,
	}
}

func main() {
	configPath := flag.String("config", "", "path to a JSON file describing the worker options (required)")
	flag.Parse()

	tuning, err := config.LoadWithKoanf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "miniflare-host: loading host tuning: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:     tuning.Logging.Level,
		Format:    tuning.Logging.Format,
		Timestamp: true,
		Output:    os.Stderr,
	})

	if *configPath == "" {
		logging.Fatal().Msg("miniflare-host: -config is required")
	}

	opts, err := loadOptions(*configPath, tuning.Loopback.Host)
	if err != nil {
		logging.Fatal().Err(err).Str("path", *configPath).Msg("miniflare-host: loading worker options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	memRegistry := storage.NewMemoryRegistry()
	plugins, closeFn := buildPlugins(tuning.Persistence.Root, memRegistry)
	defer closeFn()

	// The loopback server's live-reload route must subscribe to the same
	// hub the supervisor fires Reload() on (internal/supervisor.Supervisor
	// owns that hub, but it is only known once New returns), while New
	// itself needs the server's finished http.Handler up front. Break the
	// cycle with a handler that forwards to whatever's stored once both
	// sides exist.
	var delegate lateBoundHandler
	sup := supervisor.New(ctx, &delegate, opts)

	server := loopback.NewServer(plugins, map[string]http.Handler{}, sup.ReloadHub())
	delegate.set(server.Handler())

	logging.Info().Msg("miniflare-host: starting")

	if err := sup.Ready(ctx); err != nil {
		logging.Error().Err(err).Msg("miniflare-host: initial reconfiguration failed")
	} else {
		logging.Info().Str("loopback_addr", sup.LoopbackAddr()).Msg("miniflare-host: ready")
	}

	<-ctx.Done()
	logging.Info().Msg("miniflare-host: shutting down")

	if err := sup.Dispose(); err != nil {
		logging.Error().Err(err).Msg("miniflare-host: error during shutdown")
		os.Exit(1)
	}

	logging.Info().Msg("miniflare-host: stopped gracefully")
}

// lateBoundHandler forwards to an http.Handler set after construction,
// breaking the supervisor/loopback-server construction cycle (see main).
// The handful of requests racing the initial reconfiguration see a 503
// rather than a nil-pointer panic.
type lateBoundHandler struct {
	h atomic.Pointer[http.Handler]
}

func (l *lateBoundHandler) set(h http.Handler) { l.h.Store(&h) }

func (l *lateBoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := l.h.Load()
	if h == nil {
		http.Error(w, "starting up", http.StatusServiceUnavailable)
		return
	}
	(*h).ServeHTTP(w, r)
}

func loadOptions(path, defaultHost string) (supervisor.Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return supervisor.Options{}, fmt.Errorf("reading config file: %w", err)
	}

	var fo fileOptions
	if err := json.Unmarshal(raw, &fo); err != nil {
		return supervisor.Options{}, fmt.Errorf("parsing config file: %w", err)
	}
	if fo.Host == "" {
		fo.Host = defaultHost
	}
	return fo.toOptions(), nil
}

// buildPlugins constructs the cache/kv/r2/d1 gateway factories and their
// loopback routers (spec §4.3, §4.5). Every kv/r2 namespace is opened
// with the memory descriptor and the cache plugin uses one "default"
// memory gateway; nothing here reads a worker's persistence options.
// root is handed to the factories and is where d1 creates its sqlite files.
func buildPlugins(root string, memRegistry *storage.MemoryRegistry) (map[string]*plugin.Router, func() error) {
	realClock := clock.Real()

	kvFactory := plugin.NewGatewayFactory("kv", root, memRegistry)
	r2Factory := plugin.NewGatewayFactory("r2", root, memRegistry)
	cacheFactory := plugin.NewGatewayFactory("cache", root, memRegistry)

	cacheGateway, err := cacheFactory.Get("default", storage.Descriptor{Scheme: "memory"}, func(store storage.Store) interface{} {
		return cache.NewGateway(store, realClock)
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("miniflare-host: building cache gateway")
	}

	d1Router, d1Closer := d1.NewRouter(root)

	plugins := map[string]*plugin.Router{
		"kv":    kv.NewRouter(kvFactory, storage.Descriptor{Scheme: "memory"}, realClock),
		"r2":    r2.NewRouter(r2Factory, storage.Descriptor{Scheme: "memory"}, realClock),
		"cache": cache.NewRouter(cacheGateway.(*cache.Gateway)),
		"d1":    d1Router,
	}

	closeFn := func() error {
		var firstErr error
		if err := kvFactory.Close(); err != nil {
			firstErr = err
		}
		if err := r2Factory.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cacheFactory.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := d1Closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return plugins, closeFn
}
