// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package plugin

import (
	"sync"

	"github.com/cloudflare/miniflare-tre/internal/storage"
)

// GatewayFactory caches one gateway per namespace for a single plugin,
// rebuilding the underlying storage handle whenever the namespace's
// persistence descriptor changes (spec §4.3: "returns a cached gateway,
// rebuilding the underlying storage handle if the persistence descriptor
// changed").
//
// The wrap function passed to Get constructs a gateway of the caller's choosing (cache.Gateway,
// kv.Gateway, r2.Gateway, ...) from a storage.Store; GatewayFactory only
// owns the namespace -> (descriptor, store, gateway) caching.
type GatewayFactory struct {
	pluginName  string
	root        string
	memRegistry *storage.MemoryRegistry

	mu      sync.Mutex
	entries map[string]*factoryEntry
}

type factoryEntry struct {
	descriptor storage.Descriptor
	store      storage.Store
	gateway    interface{}
}

// NewGatewayFactory builds a factory for one plugin, rooted under root
// for on-disk backends and sharing memRegistry so same-named memory
// namespaces resolve to the same map across plugins' factories when
// memRegistry itself is shared (spec §3 "memory-namespace identity").
func NewGatewayFactory(pluginName, root string, memRegistry *storage.MemoryRegistry) *GatewayFactory {
	return &GatewayFactory{
		pluginName:  pluginName,
		root:        root,
		memRegistry: memRegistry,
		entries:     make(map[string]*factoryEntry),
	}
}

// Get returns the cached gateway for namespace if its persistence
// descriptor is unchanged, otherwise opens a fresh storage handle via
// storage.Open and caches the result of wrap(store).
func (f *GatewayFactory) Get(namespace string, desc storage.Descriptor, wrap func(storage.Store) interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.entries[namespace]; ok && e.descriptor == desc {
		return e.gateway, nil
	}

	store, err := storage.Open(desc, f.memRegistry, f.root, f.pluginName, namespace)
	if err != nil {
		return nil, err
	}

	gw := wrap(store)
	f.entries[namespace] = &factoryEntry{descriptor: desc, store: store, gateway: gw}
	return gw, nil
}

// Close releases every cached storage handle.
func (f *GatewayFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, e := range f.entries {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
