// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package r2 implements the R2 gateway (spec §4.5): head/get/put/delete/
// list with conditional headers, MD5 ETags, SHA-256 checksum verification, and
// version-1 JSON error envelopes, on top of the shared storage framework.
package r2

import (
	"context"
	"crypto/md5" //nolint:gosec // R2 ETags are MD5 by contract, not for security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

// MaxObjectSize is the maximum accepted object size.
const MaxObjectSize = 5 * 1024 * 1024 * 1024

// ErrorEnvelope is the version-1 JSON error schema returned to the
// worker on a gateway failure.
type ErrorEnvelope struct {
	Version int    `json:"version"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewErrorEnvelope builds a version-1 error envelope.
func NewErrorEnvelope(code int, message string) ErrorEnvelope {
	return ErrorEnvelope{Version: 1, Code: code, Message: message}
}

// objectMeta is the per-object metadata persisted alongside the body.
type objectMeta struct {
	ETag           string            `json:"etag"`
	Uploaded       time.Time         `json:"uploaded"`
	Size           int64             `json:"size"`
	HTTPMetadata   map[string]string `json:"httpMetadata,omitempty"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
	SHA256         string            `json:"sha256,omitempty"`
}

// Object is the head/get response shape.
type Object struct {
	Key      string
	Meta     objectMeta
	Body     []byte
	HasRange bool
}

// Gateway is the R2 bucket gateway.
type Gateway struct {
	store storage.Store
	clock clock.Clock
}

// NewGateway builds an R2 gateway over store.
func NewGateway(store storage.Store, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gateway{store: store, clock: clk}
}

// PutOptions carries the put-time metadata and optional checksums.
type PutOptions struct {
	HTTPMetadata   map[string]string
	CustomMetadata map[string]string
	SHA256         string // caller-supplied checksum, hex-encoded
	Conditional    Conditional
}

// Conditional carries the conditional-request headers evaluated against
// stored ETag/upload-time.
type Conditional struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   *time.Time
	IfUnmodifiedSince *time.Time
}

// Put stores value under key, verifying size and checksums and evaluating
// any conditional headers first.
func (g *Gateway) Put(ctx context.Context, key string, value []byte, opts PutOptions) (*Object, error) {
	if int64(len(value)) > MaxObjectSize {
		return nil, &httpErr{status: http.StatusBadRequest, env: NewErrorEnvelope(10100, "object too large")}
	}

	if existing, ok, err := g.getMeta(ctx, key); err != nil {
		return nil, err
	} else if ok {
		if !evaluateConditional(opts.Conditional, existing) {
			return nil, &httpErr{status: http.StatusPreconditionFailed, env: NewErrorEnvelope(10125, "precondition failed")}
		}
	}

	sum := md5.Sum(value) //nolint:gosec
	etag := hex.EncodeToString(sum[:])

	if opts.SHA256 != "" {
		got := sha256.Sum256(value)
		if hex.EncodeToString(got[:]) != strings.ToLower(opts.SHA256) {
			return nil, &httpErr{status: http.StatusBadRequest, env: NewErrorEnvelope(10101, "checksum mismatch")}
		}
	}

	meta := objectMeta{
		ETag:           etag,
		Uploaded:       g.clock.Now(),
		Size:           int64(len(value)),
		HTTPMetadata:   opts.HTTPMetadata,
		CustomMetadata: opts.CustomMetadata,
		SHA256:         opts.SHA256,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	if err := g.store.Put(ctx, key, value, storage.Attributes{Metadata: metaJSON}); err != nil {
		return nil, err
	}

	return &Object{Key: key, Meta: meta, Body: value}, nil
}

// Head returns object metadata without the body.
func (g *Gateway) Head(ctx context.Context, key string) (*Object, error) {
	meta, ok, err := g.getMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &httpErr{status: http.StatusNotFound, env: NewErrorEnvelope(10007, "object not found")}
	}
	return &Object{Key: key, Meta: meta}, nil
}

// Get returns an object's body, honoring conditional headers. A
// conditional mismatch returns the object's metadata without a body,
// false and no error; the caller turns that into a not-modified /
// precondition-failed response.
func (g *Gateway) Get(ctx context.Context, key string, cond Conditional) (*Object, bool, error) {
	value, attrs, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, &httpErr{status: http.StatusNotFound, env: NewErrorEnvelope(10007, "object not found")}
	}

	var meta objectMeta
	if err := json.Unmarshal(attrs.Metadata, &meta); err != nil {
		return nil, false, err
	}

	if !evaluateConditional(cond, meta) {
		return &Object{Key: key, Meta: meta}, false, nil
	}

	return &Object{Key: key, Meta: meta, Body: value}, true, nil
}

// Delete removes one or more keys, ignoring keys that do not exist.
func (g *Gateway) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := g.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ListOptions carries the list request parameters.
type ListOptions struct {
	Prefix     string
	Cursor     string
	Delimiter  string
	Limit      int
	StartAfter string // exclusive
}

// ListResult is the list response, including delimited common prefixes.
type ListResult struct {
	Objects           []Object
	DelimitedPrefixes []string
	Cursor            string
	Truncated         bool
}

// List returns objects under prefix, applying delimiter-based grouping
// and an exclusive startAfter bound.
func (g *Gateway) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	raw, err := g.store.List(ctx, opts.Prefix, opts.Cursor, 0)
	if err != nil {
		return ListResult{}, err
	}

	result := ListResult{Cursor: raw.Cursor, Truncated: !raw.Complete}
	prefixSet := map[string]bool{}

	for _, e := range raw.Keys {
		if opts.StartAfter != "" && e.Key <= opts.StartAfter {
			continue
		}

		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(e.Key, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				prefixSet[opts.Prefix+rest[:idx+len(opts.Delimiter)]] = true
				continue
			}
		}

		var meta objectMeta
		if err := json.Unmarshal(e.Attributes.Metadata, &meta); err != nil {
			return ListResult{}, err
		}
		result.Objects = append(result.Objects, Object{Key: e.Key, Meta: meta})

		if len(result.Objects) >= limit {
			result.Truncated = true
			break
		}
	}

	for p := range prefixSet {
		result.DelimitedPrefixes = append(result.DelimitedPrefixes, p)
	}
	sort.Strings(result.DelimitedPrefixes)

	return result, nil
}

func (g *Gateway) getMeta(ctx context.Context, key string) (objectMeta, bool, error) {
	_, attrs, ok, err := g.store.Get(ctx, key)
	if err != nil || !ok {
		return objectMeta{}, ok, err
	}
	var meta objectMeta
	if err := json.Unmarshal(attrs.Metadata, &meta); err != nil {
		return objectMeta{}, false, err
	}
	return meta, true, nil
}

// evaluateConditional applies spec §4.5's R2 conditional-header rules:
// If-Match satisfied disables date checking; If-None-Match "*" always
// fails when an object exists.
func evaluateConditional(cond Conditional, meta objectMeta) bool {
	if cond.IfMatch != "" {
		if !etagMatches(cond.IfMatch, meta.ETag) {
			return false
		}
		return true
	}

	if cond.IfNoneMatch != "" && etagMatches(cond.IfNoneMatch, meta.ETag) {
		return false
	}

	if cond.IfUnmodifiedSince != nil && meta.Uploaded.Truncate(time.Second).After(*cond.IfUnmodifiedSince) {
		return false
	}
	if cond.IfModifiedSince != nil && !meta.Uploaded.Truncate(time.Second).After(*cond.IfModifiedSince) {
		return false
	}

	return true
}

func etagMatches(header, stored string) bool {
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "*" || strings.Trim(tok, `"`) == stored {
			return true
		}
	}
	return false
}

// httpErr pairs an HTTP status with a version-1 error envelope.
type httpErr struct {
	status int
	env    ErrorEnvelope
}

func (e *httpErr) Error() string { return fmt.Sprintf("r2: %s", e.env.Message) }

// Status returns the HTTP status an httpErr should be rendered as.
func Status(err error) (int, ErrorEnvelope, bool) {
	he, ok := err.(*httpErr)
	if !ok {
		return 0, ErrorEnvelope{}, false
	}
	return he.status, he.env, true
}
