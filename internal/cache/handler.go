// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package cache

import (
	"io"
	"net/http"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/plugin"
)

// KeyHeader carries the cache key (spec §3: "normalized request URL plus
// optional caller-supplied cache key") for every cache-plugin request,
// since an arbitrary URL is not always safe to carry as a router path
// segment.
const KeyHeader = "CF-Cache-Key"

// NewRouter builds the cache plugin's loopback router (spec §4.4).
//
//	PUT    /object   (CF-Cache-Key header; body = raw HTTP/1.1 response)
//	GET    /object   (CF-Cache-Key header; conditional/range headers honored)
//	DELETE /object   (CF-Cache-Key header)
func NewRouter(gw *Gateway) *plugin.Router {
	r := plugin.NewRouter()

	r.Handle(http.MethodPut, "/object", func(w http.ResponseWriter, req *http.Request, _ map[string]string) error {
		key, err := requireKey(req)
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return hosterr.NewHTTPError(http.StatusBadRequest, "reading request body")
		}
		stored, err := gw.Put(req.Context(), key, raw)
		if err != nil {
			return err
		}
		if !stored {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Handle(http.MethodGet, "/object", func(w http.ResponseWriter, req *http.Request, _ map[string]string) error {
		key, err := requireKey(req)
		if err != nil {
			return err
		}
		result, err := gw.Match(req.Context(), key, req.Header)
		if err != nil {
			return err
		}
		writeResult(w, result)
		return nil
	})

	r.Handle(http.MethodDelete, "/object", func(w http.ResponseWriter, req *http.Request, _ map[string]string) error {
		key, err := requireKey(req)
		if err != nil {
			return err
		}
		result, err := gw.Purge(req.Context(), key)
		if err != nil {
			return err
		}
		writeResult(w, result)
		return nil
	})

	return r
}

func requireKey(req *http.Request) (string, error) {
	key := req.Header.Get(KeyHeader)
	if key == "" {
		return "", hosterr.NewHTTPError(http.StatusBadRequest, "missing "+KeyHeader+" header")
	}
	return key, nil
}

func writeResult(w http.ResponseWriter, result *Result) {
	for name, values := range result.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(result.Status)
	if len(result.Body) > 0 {
		_, _ = w.Write(result.Body)
	}
}
