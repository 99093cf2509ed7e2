// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryEntry pairs a stored value with its attributes.
type memoryEntry struct {
	value []byte
	attrs Attributes
}

// MemoryStore is a process-local, mutex-guarded map backing a single
// namespace. Per spec §3, "a single memory namespace maps to exactly one
// in-process map, shared across gateway lookups within the supervisor
// lifetime" — that sharing is implemented by MemoryRegistry, not by this
// type itself, which is the plain per-namespace map.
//
// Grounded on the teacher's internal/cache.Cache: a mutex-guarded map with
// Get/Set/Delete, generalized from an interface{}+TTL cache into a
// byte-value+Attributes store with no background sweep (the store returns
// expired entries as-is; the KV and cache gateways check expiration lazily
// on their own reads rather than duplicating a sweep loop).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, Attributes, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, Attributes{}, false, nil
	}
	return e.value, e.attrs, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, attrs Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, attrs: attrs}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.entries[key]
	delete(m.entries, key)
	return existed, nil
}

func (m *MemoryStore) List(_ context.Context, prefix, cursor string, limit int) (ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		for i, k := range keys {
			if k > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	result := ListResult{Complete: true}
	end := start + limit
	if end >= len(keys) {
		end = len(keys)
	} else {
		result.Complete = false
	}

	for _, k := range keys[start:end] {
		result.Keys = append(result.Keys, ListEntry{Key: k, Attributes: m.entries[k].attrs})
	}
	if !result.Complete && len(result.Keys) > 0 {
		result.Cursor = result.Keys[len(result.Keys)-1].Key
	}

	return result, nil
}

func (m *MemoryStore) Close() error { return nil }

// MemoryRegistry caches one *MemoryStore per namespace name so repeated
// lookups of the same (plugin, namespace) with persist=false always
// resolve to the same underlying map (spec §8 "Memory-namespace
// identity").
type MemoryRegistry struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]*MemoryStore)}
}

// Get returns the store for name, creating it on first use.
func (r *MemoryRegistry) Get(name string) *MemoryStore {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s
	}
	s := NewMemoryStore()
	r.stores[name] = s
	return s
}
