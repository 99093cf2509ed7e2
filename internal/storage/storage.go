// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package storage implements the per-(plugin, namespace, persistence)
// storage handles backing every gateway: memory, file, sqlite, and badger
// variants, selected by a persistence descriptor (spec §4.3, §6, §9).
//
// Concurrency discipline varies by variant: memory uses a mutex, file
// serializes every operation through one per-store mutex, sqlite holds one
// connection per namespace, and badger serializes through its own
// transaction machinery — matching the "each variant holds its own
// concurrency discipline" design note in spec §9.
package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/hosterr"
)

// Attributes is the metadata record stored alongside a value: an optional
// expiration and an opaque, gateway-defined metadata blob. This mirrors
// the SQLite backend's "attributes TEXT" JSON column (spec §6) uniformly
// across all backend variants.
type Attributes struct {
	Expiration *time.Time      `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Expired reports whether the attributes carry an expiration that is at or
// before now.
func (a Attributes) Expired(now time.Time) bool {
	return a.Expiration != nil && !a.Expiration.After(now)
}

// ListEntry is one row returned by Store.List.
type ListEntry struct {
	Key        string
	Attributes Attributes
}

// ListResult is the result of a prefix-scan, supporting cursor-based
// pagination (spec §4.5 KV "list").
type ListResult struct {
	Keys     []ListEntry
	Cursor   string
	Complete bool
}

// Store is a namespace-scoped key/value handle. Keys and values are raw
// bytes; gateways are responsible for any higher-level encoding.
type Store interface {
	// Get returns the value and attributes for key, or ok=false if absent.
	// Expiration is not evaluated here: an expired entry is still
	// returned, and callers check Attributes.Expired against their clock.
	Get(ctx context.Context, key string) (value []byte, attrs Attributes, ok bool, err error)

	// Put stores value and attrs under key, overwriting any prior entry.
	Put(ctx context.Context, key string, value []byte, attrs Attributes) error

	// Delete removes key, reporting whether it previously existed.
	Delete(ctx context.Context, key string) (existed bool, err error)

	// List returns up to limit entries whose key has the given prefix,
	// starting after the given cursor (opaque, backend-defined), ordered
	// lexicographically by key where the backend supports it.
	List(ctx context.Context, prefix, cursor string, limit int) (ListResult, error)

	// Close releases backend resources (file handles, DB connections).
	Close() error
}

// Descriptor selects which backend variant hosts a namespace, parsed from
// the persistence value a worker options set supplies (spec §4.3
// "Persistence handle construction").
type Descriptor struct {
	// Scheme is one of "memory", "file", or "sqlite" (badger is a
	// SPEC_FULL supplement selected via the badger: URL scheme).
	Scheme string

	// Path is the filesystem directory (file:) or database file (sqlite:,
	// badger:) backing the namespace. Unused for memory.
	Path string

	// Unsanitize disables filename sanitization for file: namespaces,
	// honoring the spec's "optional unsanitize query flag for literal
	// filenames".
	Unsanitize bool
}

// ParseDescriptor converts a raw persistence value — nil/false, true, a
// path string, or a URL string — into a Descriptor. Any scheme other than
// file/sqlite/badger is rejected with hosterr.ErrUnknownPersistenceScheme.
func ParseDescriptor(raw interface{}) (Descriptor, error) {
	switch v := raw.(type) {
	case nil:
		return Descriptor{Scheme: "memory"}, nil
	case bool:
		if !v {
			return Descriptor{Scheme: "memory"}, nil
		}
		return Descriptor{}, errors.New("storage: persistence=true requires an explicit path")
	case string:
		return parseDescriptorString(v)
	default:
		return Descriptor{}, errors.New("storage: unsupported persistence descriptor type")
	}
}

var schemeRE = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*):`)

func parseDescriptorString(raw string) (Descriptor, error) {
	m := schemeRE.FindStringSubmatch(raw)
	if m == nil {
		// Bare path string, or "true" coerced to a string by a caller.
		return Descriptor{Scheme: "file", Path: raw}, nil
	}

	switch strings.ToLower(m[1]) {
	case "file":
		path := strings.TrimPrefix(raw, m[0])
		path = strings.TrimPrefix(path, "//")
		unsanitize := false
		if idx := strings.Index(path, "?"); idx >= 0 {
			query := path[idx+1:]
			path = path[:idx]
			unsanitize = strings.Contains(query, "unsanitize=true") || strings.Contains(query, "unsanitize")
		}
		return Descriptor{Scheme: "file", Path: path, Unsanitize: unsanitize}, nil
	case "sqlite":
		path := strings.TrimPrefix(raw, m[0])
		path = strings.TrimPrefix(path, "//")
		return Descriptor{Scheme: "sqlite", Path: path}, nil
	case "badger":
		path := strings.TrimPrefix(raw, m[0])
		path = strings.TrimPrefix(path, "//")
		return Descriptor{Scheme: "badger", Path: path}, nil
	default:
		return Descriptor{}, hosterr.ErrUnknownPersistenceScheme
	}
}

// sanitizeKey strips path separators and traversal sequences so a
// namespace key cannot escape its backing directory (spec §3 "Namespace
// strings are sanitized for filesystem safety before path composition").
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		"\x00", "",
	)
	sanitized := replacer.Replace(key)
	if sanitized == "" {
		sanitized = "_"
	}
	return sanitized
}

// sanitizeNamespace applies the same rule to a (plugin, namespace) pair
// used to compose a directory or cache key.
func sanitizeNamespace(name string) string {
	return sanitizeKey(name)
}
