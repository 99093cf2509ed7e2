// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package plugin implements the plugin framework (spec §4.3): a router
// with the `/segment/:param` path syntax, a gateway factory that caches
// gateways per (namespace, persistence descriptor), and the conversion
// from handler-thrown HTTP errors into loopback responses.
//
// Grounded on the teacher's use of go-chi/chi for HTTP routing,
// generalized here into a small dependency-free matcher because plugin
// routes are registered programmatically per plugin rather than laid
// out as a single application mux — chi remains the router for the
// loopback server itself (internal/loopback), which mounts each
// plugin's Router under its `/<pluginName>` prefix.
package plugin

import (
	"net/http"
	"strings"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
)

// HandlerFunc handles one matched route. Params carries the extracted
// `:param` path segments. Returning an *hosterr.HTTPError renders as
// that status/message; any other error propagates as a 500.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string) error

type route struct {
	method  string
	segs    []string
	handler HandlerFunc
}

// Router is a plugin's method+path route table.
type Router struct {
	routes []route
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers a route. pattern uses `/segment/:param` syntax with
// an optional trailing `/?` to also match the path without its final
// segment present.
func (rt *Router) Handle(method, pattern string, handler HandlerFunc) {
	optional := strings.HasSuffix(pattern, "/?")
	trimmed := strings.TrimSuffix(pattern, "/?")
	segs := splitPath(trimmed)

	rt.routes = append(rt.routes, route{method: method, segs: segs, handler: handler})
	if optional && len(segs) > 0 {
		rt.routes = append(rt.routes, route{method: method, segs: segs[:len(segs)-1], handler: handler})
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Dispatch strips the given prefix from r.URL.Path, finds the first
// matching route, and invokes it. An unmatched route reports matched =
// false (the caller renders 404). An error returned by the handler is
// rendered per its hosterr.HTTPError status, or 500 otherwise.
func (rt *Router) Dispatch(w http.ResponseWriter, r *http.Request, prefix string) (matched bool) {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	segs := splitPath(rest)

	for _, rte := range rt.routes {
		if rte.method != r.Method {
			continue
		}
		params, ok := match(rte.segs, segs)
		if !ok {
			continue
		}
		if err := rte.handler(w, r, params); err != nil {
			RenderError(w, err)
		}
		return true
	}
	return false
}

func match(pattern, actual []string) (map[string]string, bool) {
	if len(pattern) != len(actual) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			params[seg[1:]] = actual[i]
			continue
		}
		if seg != actual[i] {
			return nil, false
		}
	}
	return params, true
}

// RenderError writes err as an HTTP response: hosterr.HTTPError values
// render with their chosen status, status text, and message; any other
// error renders as a 500 (spec §4.3: "HTTP-error exceptions thrown by
// handlers are caught and rendered as (status, statusText, message)
// responses; other errors propagate").
func RenderError(w http.ResponseWriter, err error) {
	if he, ok := hosterr.AsHTTPError(err); ok {
		if he.StatusText != "" {
			w.Header().Set("Status-Text", he.StatusText)
		}
		http.Error(w, he.Message, he.Status)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
