// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package storage

import (
	"path/filepath"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
)

// Open constructs the Store variant named by desc, rooted under root for
// file/sqlite/badger schemes and keyed by (plugin, namespace) for memory.
// Callers switching a namespace's persistence descriptor get a fresh
// handle by calling Open again rather than reusing a cached one (spec §3:
// "Switching the persistence descriptor for a namespace produces a fresh
// handle").
func Open(desc Descriptor, memRegistry *MemoryRegistry, root, plugin, namespace string) (Store, error) {
	ns := sanitizeNamespace(plugin) + "/" + sanitizeNamespace(namespace)

	switch desc.Scheme {
	case "memory", "":
		return memRegistry.Get(ns), nil
	case "file":
		dir := desc.Path
		if dir == "" {
			dir = filepath.Join(root, plugin, namespace)
		}
		return NewFileStore(dir, desc.Unsanitize)
	case "sqlite":
		path := desc.Path
		if path == "" {
			path = filepath.Join(root, plugin, namespace+".sqlite")
		}
		return OpenSQLiteStore(path, ns)
	case "badger":
		dir := desc.Path
		if dir == "" {
			dir = filepath.Join(root, plugin, namespace+".badger")
		}
		return OpenBadgerStore(dir, ns)
	default:
		return nil, hosterr.ErrUnknownPersistenceScheme
	}
}
