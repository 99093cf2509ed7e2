// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package loopback implements the loopback HTTP+WebSocket server (spec
// §4.2): plugin dispatch, the /core/error reporter, the live-reload
// upgrade endpoint, and custom-service header-keyed dispatch.
//
// Grounded on the teacher's internal/api chi-based router (route
// grouping, middleware composition) and its gorilla/websocket upgrade
// handler for the live-reload socket.
package loopback

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudflare/miniflare-tre/internal/logging"
	"github.com/cloudflare/miniflare-tre/internal/middleware"
	"github.com/cloudflare/miniflare-tre/internal/plugin"
	mfws "github.com/cloudflare/miniflare-tre/internal/websocket"
)

// CustomServiceHeader is the header carrying "<workerIndex>/<bindingName>"
// for dispatch to a host-registered service callback (spec §4.2).
const CustomServiceHeader = "MF-Custom-Service"

// ReloadPath is the live-reload WebSocket upgrade route.
const ReloadPath = "/cdn-cgi/mf/reload"

// ErrorPath is the core error-reporting route.
const ErrorPath = "/core/error"

// MetricsPath exposes the Prometheus collectors registered by
// internal/metrics (spec §A.5).
const MetricsPath = "/metrics"

// Server is the loopback HTTP+WebSocket server.
type Server struct {
	plugins        map[string]*plugin.Router
	customServices map[string]http.Handler
	reloadHub      *mfws.Hub
	upgrader       websocket.Upgrader
	sourceMaps     SourceMapRetriever
	perf           *middleware.PerformanceMonitor
}

// NewServer builds a loopback server. plugins maps a plugin name to its
// router; customServices maps a "<workerIndex>/<bindingName>" key to the
// host callback handler registered under that custom-service binding.
func NewServer(plugins map[string]*plugin.Router, customServices map[string]http.Handler, reloadHub *mfws.Hub) *Server {
	return &Server{
		plugins:        plugins,
		customServices: customServices,
		reloadHub:      reloadHub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		perf: middleware.NewPerformanceMonitor(1000),
	}
}

// WithSourceMaps sets the stack-trace source-map retriever used by
// /core/error, returning s for chaining.
func (s *Server) WithSourceMaps(retriever SourceMapRetriever) *Server {
	s.sourceMaps = retriever
	return s
}

// Stats returns per-route latency percentiles observed on this server,
// sourced from the last 1000 requests, for the embedder's own diagnostics.
func (s *Server) Stats() []middleware.EndpointStats {
	return s.perf.GetStats()
}

// Handler builds the chi mux implementing spec §4.2's route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compression)
	r.Use(middleware.PrometheusMetrics)
	r.Use(s.perf.Middleware)

	r.Get(ReloadPath, s.handleReloadUpgrade)
	r.Post(ErrorPath, s.handleCoreError)
	r.Handle(MetricsPath, promhttp.Handler())
	r.NotFound(s.handleDispatch)
	r.MethodNotAllowed(s.handleDispatch)
	r.Handle("/*", http.HandlerFunc(s.handleDispatch))

	return r
}

// handleDispatch implements the remaining branches of the route table:
// custom-service header dispatch, then plugin-name-prefixed dispatch,
// then 404.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	translateRequest(r)

	if key := r.Header.Get(CustomServiceHeader); key != "" {
		if h, ok := s.customServices[key]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	pluginName, prefix := firstSegment(r.URL.Path)
	if router, ok := s.plugins[pluginName]; ok {
		if router.Dispatch(w, r, prefix) {
			return
		}
	}
	http.NotFound(w, r)
}

// handleReloadUpgrade upgrades the connection and registers it with the
// live-reload hub.
func (s *Server) handleReloadUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("reload websocket upgrade failed")
		return
	}
	client := mfws.NewClient(s.reloadHub, conn)
	s.reloadHub.Register <- client
	client.Start()
}

// firstSegment splits "/<name>/<rest>" into name and "/<name>".
func firstSegment(path string) (name, prefix string) {
	if path == "" || path[0] != '/' {
		return "", ""
	}
	rest := path[1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], "/" + rest[:i]
		}
	}
	return rest, "/" + rest
}
