// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// FileStore persists each key as one file under root, with metadata
// alongside as an adjacent ".meta.json" file (spec §6 "Persisted state:
// File → one file per key under <root>/<plugin>/<namespace>/<sanitized-key>;
// metadata alongside as adjacent JSON").
//
// A per-store mutex serializes every Get, Put, Delete and List in place of
// a lock per key; Put writes the data and metadata files with plain
// os.WriteFile calls, not an atomic rename.
type FileStore struct {
	root       string
	unsanitize bool

	mu sync.Mutex
}

// NewFileStore creates (if needed) root and returns a store backed by it.
func NewFileStore(root string, unsanitize bool) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root, unsanitize: unsanitize}, nil
}

func (f *FileStore) keyFilename(key string) string {
	if f.unsanitize {
		return key
	}
	return sanitizeKey(key)
}

func (f *FileStore) paths(key string) (dataPath, metaPath string) {
	name := f.keyFilename(key)
	return filepath.Join(f.root, name), filepath.Join(f.root, name+".meta.json")
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, Attributes, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dataPath, metaPath := f.paths(key)
	value, err := os.ReadFile(dataPath)
	if os.IsNotExist(err) {
		return nil, Attributes{}, false, nil
	}
	if err != nil {
		return nil, Attributes{}, false, err
	}

	var attrs Attributes
	if raw, err := os.ReadFile(metaPath); err == nil {
		_ = json.Unmarshal(raw, &attrs)
	} else if !os.IsNotExist(err) {
		return nil, Attributes{}, false, err
	}

	return value, attrs, true, nil
}

func (f *FileStore) Put(_ context.Context, key string, value []byte, attrs Attributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dataPath, metaPath := f.paths(key)
	if err := os.WriteFile(dataPath, value, 0o644); err != nil {
		return err
	}

	meta, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, meta, 0o644)
}

func (f *FileStore) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dataPath, metaPath := f.paths(key)
	err := os.Remove(dataPath)
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	_ = os.Remove(metaPath)
	return existed, nil
}

func (f *FileStore) List(_ context.Context, prefix, cursor string, limit int) (ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.root)
	if err != nil {
		return ListResult{}, err
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".meta.json") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
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
		var attrs Attributes
		if raw, err := os.ReadFile(filepath.Join(f.root, k+".meta.json")); err == nil {
			_ = json.Unmarshal(raw, &attrs)
		}
		result.Keys = append(result.Keys, ListEntry{Key: k, Attributes: attrs})
	}
	if !result.Complete && len(result.Keys) > 0 {
		result.Cursor = result.Keys[len(result.Keys)-1].Key
	}

	return result, nil
}

func (f *FileStore) Close() error { return nil }
