// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package kv implements the KV gateway (spec §4.5): key validation,
// expiration/TTL computation against the supervisor's clock, and
// size-limited get/put/delete/list on top of the shared storage
// framework.
//
// Grounded on the teacher's internal/cache.Cache for the basic shape of a
// size-bounded, TTL-aware store, generalized here onto internal/storage's
// Store interface so the same gateway works unmodified across the
// memory/file/sqlite/badger backend variants.
package kv

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/hosterr"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

const (
	// MaxKeySize is the maximum key length in UTF-8 bytes.
	MaxKeySize = 512

	// MinTTLSeconds is the minimum allowed relative TTL, matching the
	// production KV namespace's minimum.
	MinTTLSeconds = 60

	// MaxValueSize is the maximum stored value size in bytes.
	MaxValueSize = 25 * 1024 * 1024

	// MaxMetadataSize is the maximum stored metadata size in bytes.
	MaxMetadataSize = 1024

	// MaxListLimit is the maximum number of keys list returns per call.
	MaxListLimit = 1000
)

// Entry is one key's metadata as returned by List.
type Entry struct {
	Key        string          `json:"name"`
	Expiration *int64          `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ListResult is the list response envelope.
type ListResult struct {
	Keys         []Entry `json:"keys"`
	ListComplete bool    `json:"list_complete"`
	Cursor       string  `json:"cursor,omitempty"`
}

// Gateway is the KV namespace gateway.
type Gateway struct {
	store storage.Store
	clock clock.Clock
}

// NewGateway builds a KV gateway over store.
func NewGateway(store storage.Store, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gateway{store: store, clock: clk}
}

// ValidateKey enforces spec §4.5's key rules: non-empty, not "." or
// "..", at most MaxKeySize UTF-8 bytes.
func ValidateKey(key string) error {
	if key == "" {
		return hosterr.NewHTTPError(400, "key name must not be empty")
	}
	if key == "." || key == ".." {
		return hosterr.NewHTTPError(400, `key name must not be "." or ".."`)
	}
	if !utf8.ValidString(key) {
		return hosterr.NewHTTPError(400, "key name must be valid UTF-8")
	}
	if len(key) > MaxKeySize {
		return hosterr.NewHTTPError(400, "key name too long")
	}
	return nil
}

// PutOptions carries the put-time expiration request, expressed as at
// most one of an absolute epoch-seconds instant or a TTL relative to
// now.
type PutOptions struct {
	ExpirationSeconds    *int64
	ExpirationTTLSeconds *int64
	Metadata             json.RawMessage
}

// Put validates key, value, metadata, and the requested expiration, then
// stores the entry.
func (g *Gateway) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if len(value) > MaxValueSize {
		return hosterr.NewHTTPError(413, "value too large")
	}
	if len(opts.Metadata) > MaxMetadataSize {
		return hosterr.NewHTTPError(413, "metadata too large")
	}

	attrs := storage.Attributes{Metadata: opts.Metadata}

	now := g.clock.Now()
	switch {
	case opts.ExpirationSeconds != nil:
		exp := *opts.ExpirationSeconds
		if exp <= now.Unix() {
			return hosterr.NewHTTPError(400, "expiration must be in the future")
		}
		if exp-now.Unix() < MinTTLSeconds {
			return hosterr.NewHTTPError(400, "expiration is below the minimum TTL")
		}
		t := time.Unix(exp, 0).UTC()
		attrs.Expiration = &t
	case opts.ExpirationTTLSeconds != nil:
		ttl := *opts.ExpirationTTLSeconds
		if ttl < MinTTLSeconds {
			return hosterr.NewHTTPError(400, "expiration_ttl is below the minimum TTL")
		}
		t := now.Add(time.Duration(ttl) * time.Second)
		attrs.Expiration = &t
	}

	return g.store.Put(ctx, key, value, attrs)
}

// Get returns value and metadata for key, or ok=false if absent or
// expired.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, json.RawMessage, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, false, err
	}
	value, attrs, ok, err := g.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	if attrs.Expired(g.clock.Now()) {
		return nil, nil, false, nil
	}
	return value, attrs.Metadata, true, nil
}

// Delete removes key.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := g.store.Delete(ctx, key)
	return err
}

// List returns up to limit keys (capped at MaxListLimit) with the given
// prefix, starting after cursor.
func (g *Gateway) List(ctx context.Context, prefix, cursor string, limit int) (ListResult, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	res, err := g.store.List(ctx, prefix, cursor, limit)
	if err != nil {
		return ListResult{}, err
	}

	now := g.clock.Now()
	out := ListResult{ListComplete: res.Complete, Cursor: res.Cursor}
	for _, e := range res.Keys {
		if e.Attributes.Expired(now) {
			continue
		}
		entry := Entry{Key: e.Key, Metadata: e.Attributes.Metadata}
		if e.Attributes.Expiration != nil {
			sec := e.Attributes.Expiration.Unix()
			entry.Expiration = &sec
		}
		out.Keys = append(out.Keys, entry)
	}
	return out, nil
}
