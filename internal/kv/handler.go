// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package kv

import (
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/plugin"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

// Factory resolves a namespace to its KV gateway, per spec §4.3's
// "factory.get(namespace, persistence)" pattern.
type Factory interface {
	Get(namespace string, desc storage.Descriptor, wrap func(storage.Store) interface{}) (interface{}, error)
}

// putRequest is the JSON envelope PUT accepts alongside the raw value,
// when the caller supplies one via the "?meta=" query parameter; simple
// puts may omit it entirely.
type putRequest struct {
	ExpirationSeconds    *int64          `json:"expiration,omitempty"`
	ExpirationTTLSeconds *int64          `json:"expiration_ttl,omitempty"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
}

// NewRouter builds the KV plugin's loopback router (spec §4.5). desc and
// clk parameterize every namespace's gateway construction; factory
// caches gateways per namespace.
//
// Routes, grounded on the production KV namespace REST shape:
//
//	GET    /:namespace/values/:key
//	PUT    /:namespace/values/:key   (body = value; "?meta=<json>" carries PutOptions)
//	DELETE /:namespace/values/:key
//	GET    /:namespace/keys          ("?prefix=&cursor=&limit=")
func NewRouter(factory Factory, desc storage.Descriptor, clk clock.Clock) *plugin.Router {
	gatewayFor := func(namespace string) (*Gateway, error) {
		gw, err := factory.Get(namespace, desc, func(store storage.Store) interface{} {
			return NewGateway(store, clk)
		})
		if err != nil {
			return nil, err
		}
		return gw.(*Gateway), nil
	}

	r := plugin.NewRouter()

	r.Handle(http.MethodGet, "/:namespace/values/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["namespace"])
		if err != nil {
			return err
		}
		value, metadata, ok, err := gw.Get(req.Context(), params["key"])
		if err != nil {
			return err
		}
		if !ok {
			return hosterr.NewHTTPError(http.StatusNotFound, "key not found")
		}
		if len(metadata) > 0 {
			w.Header().Set("CF-KV-Metadata", string(metadata))
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, err = w.Write(value)
		return err
	})

	r.Handle(http.MethodPut, "/:namespace/values/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["namespace"])
		if err != nil {
			return err
		}
		value, err := io.ReadAll(req.Body)
		if err != nil {
			return hosterr.NewHTTPError(http.StatusBadRequest, "reading request body")
		}

		opts := PutOptions{}
		if raw := req.URL.Query().Get("meta"); raw != "" {
			var pr putRequest
			if err := json.Unmarshal([]byte(raw), &pr); err != nil {
				return hosterr.NewHTTPError(http.StatusBadRequest, "invalid meta parameter")
			}
			opts.ExpirationSeconds = pr.ExpirationSeconds
			opts.ExpirationTTLSeconds = pr.ExpirationTTLSeconds
			opts.Metadata = pr.Metadata
		}
		if ttl := req.URL.Query().Get("expiration_ttl"); ttl != "" {
			if v, err := strconv.ParseInt(ttl, 10, 64); err == nil {
				opts.ExpirationTTLSeconds = &v
			}
		}

		if err := gw.Put(req.Context(), params["key"], value, opts); err != nil {
			return err
		}
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Handle(http.MethodDelete, "/:namespace/values/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["namespace"])
		if err != nil {
			return err
		}
		if err := gw.Delete(req.Context(), params["key"]); err != nil {
			return err
		}
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Handle(http.MethodGet, "/:namespace/keys", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["namespace"])
		if err != nil {
			return err
		}
		q := req.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		result, err := gw.List(req.Context(), q.Get("prefix"), q.Get("cursor"), limit)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(result)
	})

	return r
}
