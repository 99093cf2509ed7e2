// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package d1

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/plugin"
)

// databaseFactory opens (and caches) one *Gateway per database name,
// grounded on plugin.GatewayFactory's namespace-caching shape but
// specialized to D1: every database is its own sqlite file rather than a
// storage.Store-backed namespace, so the generic factory does not apply.
type databaseFactory struct {
	root string

	mu  sync.Mutex
	dbs map[string]*Gateway
}

func newDatabaseFactory(root string) *databaseFactory {
	return &databaseFactory{root: root, dbs: make(map[string]*Gateway)}
}

func (f *databaseFactory) get(name string) (*Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gw, ok := f.dbs[name]; ok {
		return gw, nil
	}
	gw, err := Open(filepath.Join(f.root, name+".sqlite"))
	if err != nil {
		return nil, err
	}
	f.dbs[name] = gw
	return gw, nil
}

func (f *databaseFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, gw := range f.dbs {
		if err := gw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// batchRequest is the wire shape for both /query and /execute: either a
// single statement or a batch (spec §4.5: "batches run inside an
// explicit transaction and roll back on first failure").
type batchRequest struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params,omitempty"`
	Batch  []Statement   `json:"batch,omitempty"`
}

func (r batchRequest) statements() []Statement {
	if len(r.Batch) > 0 {
		return r.Batch
	}
	return []Statement{{SQL: r.SQL, Params: r.Params}}
}

// NewRouter builds the D1 plugin's loopback router (spec §4.5). root is
// the directory under which each database's sqlite file is created.
//
//	POST /:database/query    (may return rows)
//	POST /:database/execute  (rejects row-returning statements)
//	GET  /:database/dump
//
// The returned io.Closer closes every sqlite file the router has opened;
// the caller is responsible for calling it on shutdown.
func NewRouter(root string) (*plugin.Router, io.Closer) {
	factory := newDatabaseFactory(root)
	r := plugin.NewRouter()

	r.Handle(http.MethodPost, "/:database/query", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := factory.get(params["database"])
		if err != nil {
			return err
		}
		var body batchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return hosterr.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		results, err := gw.Query(req.Context(), body.statements())
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(results)
	})

	r.Handle(http.MethodPost, "/:database/execute", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := factory.get(params["database"])
		if err != nil {
			return err
		}
		var body batchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return hosterr.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		results, err := gw.Execute(req.Context(), body.statements())
		if err != nil {
			if errors.Is(err, ErrRowsFromExecute) {
				return hosterr.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(results)
	})

	r.Handle(http.MethodGet, "/:database/dump", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := factory.get(params["database"])
		if err != nil {
			return err
		}
		blob, err := gw.Dump(req.Context())
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, err = w.Write(blob)
		return err
	})

	return r, factory
}
