// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package cache implements the request-cache gateway (spec §4.4): the
// algorithmically interesting plugin that evaluates HTTP cache semantics
// and serves conditional and ranged reads out of the shared storage
// framework (internal/storage).
package cache

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/logging"
	"github.com/cloudflare/miniflare-tre/internal/metrics"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

// sitesPrefix is the reserved URL-path prefix whose requests bypass the
// cache entirely (spec §4.4 "Sites bypass").
const sitesPrefix = "/cdn-cgi/mf/sites/"

// storedMeta is the per-entry metadata record (status, multi-valued
// response headers, size), carried in storage.Attributes.Metadata as
// JSON; the entry's expiration is kept in storage.Attributes.Expiration.
type storedMeta struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Size   int64       `json:"size"`
}

// Result is what Match/Put/Purge hand back for the loopback server to
// render as an HTTP response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Gateway is the cache plugin's gateway: a storage.Store plus the clock
// used to evaluate freshness (spec §4.4's clock-injected policy
// evaluator).
type Gateway struct {
	store storage.Store
	clock clock.Clock
}

// NewGateway builds a cache gateway over store.
func NewGateway(store storage.Store, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gateway{store: store, clock: clk}
}

// isSitesBypass reports whether key names a reserved sites path.
func isSitesBypass(key string) bool {
	return strings.HasPrefix(key, sitesPrefix)
}

// Put parses raw as an HTTP/1.1 response (status line + headers + body,
// spec §6 "Wire format for cache PUT"), evaluates storability, and stores
// it under key. Reports whether the response was actually stored — an
// unstorable response, or one whose key falls under the sites bypass
// prefix, is a silent no-op (204, per spec), not an error.
func (g *Gateway) Put(ctx context.Context, key string, raw []byte) (bool, error) {
	if isSitesBypass(key) {
		return false, nil
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), dummyGetRequest())
	if err != nil {
		return false, fmt.Errorf("cache: parsing stored response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("cache: reading response body: %w", err)
	}

	decision := evaluateStorability(resp)
	if !decision.Storable {
		return false, nil
	}

	header := resp.Header.Clone()
	if decision.StripSetCookie {
		header.Del("Set-Cookie")
	}

	meta := storedMeta{Status: resp.StatusCode, Header: header, Size: int64(len(body))}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}

	// decision.Expires is computed from time.Now; keep its freshness
	// lifetime but anchor it to the injected clock.
	expires := g.clock.Now().Add(time.Until(decision.Expires))
	attrs := storage.Attributes{Expiration: &expires, Metadata: metaJSON}
	if err := g.store.Put(ctx, key, body, attrs); err != nil {
		return false, err
	}

	logging.Debug().Str("key", key).Time("expires", expires).Msg("cache put")
	return true, nil
}

// Match implements GET: conditional, ranged, and plain reads against a
// stored entry, per spec §4.4's match semantics.
func (g *Gateway) Match(ctx context.Context, key string, reqHeader http.Header) (*Result, error) {
	if isSitesBypass(key) {
		return missResult(), nil
	}

	value, attrs, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || attrs.Expired(g.clock.Now()) {
		metrics.RecordCacheMiss()
		return missResult(), nil
	}
	metrics.RecordCacheHit()

	var meta storedMeta
	if err := json.Unmarshal(attrs.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("cache: decoding stored metadata: %w", err)
	}

	if inm := reqHeader.Get("If-None-Match"); inm != "" {
		if etagListMatches(inm, meta.Header.Get("ETag")) {
			return notModified(meta.Header), nil
		}
	} else if ims := reqHeader.Get("If-Modified-Since"); ims != "" && meta.Header.Get("Last-Modified") != "" {
		if notModifiedSince(meta.Header.Get("Last-Modified"), ims) {
			return notModified(meta.Header), nil
		}
	}

	if rangeHeader := reqHeader.Get("Range"); rangeHeader != "" {
		return g.matchRange(meta, value, rangeHeader)
	}

	header := meta.Header.Clone()
	header.Set("CF-Cache-Status", "HIT")
	return &Result{Status: meta.Status, Header: header, Body: value}, nil
}

// Purge implements DELETE: 404 if the key did not exist, 200 otherwise.
func (g *Gateway) Purge(ctx context.Context, key string) (*Result, error) {
	existed, err := g.store.Delete(ctx, key)
	if err != nil {
		return nil, err
	}
	if !existed {
		return &Result{Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	metrics.RecordCachePurge()
	return &Result{Status: http.StatusOK, Header: http.Header{}}, nil
}

func missResult() *Result {
	h := http.Header{}
	h.Set("CF-Cache-Status", "MISS")
	return &Result{Status: http.StatusGatewayTimeout, Header: h}
}

func notModified(stored http.Header) *Result {
	h := stored.Clone()
	h.Set("CF-Cache-Status", "HIT")
	return &Result{Status: http.StatusNotModified, Header: h}
}

func (g *Gateway) matchRange(meta storedMeta, value []byte, rangeHeader string) (*Result, error) {
	length := int64(len(value))

	ranges, err := ParseRange(rangeHeader, length)
	if err != nil {
		if IsUnsatisfiable(err) {
			h := http.Header{}
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", length))
			h.Set("CF-Cache-Status", "HIT")
			return &Result{Status: http.StatusRequestedRangeNotSatisfiable, Header: h}, nil
		}
		return nil, err
	}

	if ranges == nil {
		header := meta.Header.Clone()
		header.Set("CF-Cache-Status", "HIT")
		return &Result{Status: meta.Status, Header: header, Body: value}, nil
	}

	if len(ranges) == 1 {
		r := ranges[0]
		header := meta.Header.Clone()
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, length))
		header.Set("CF-Cache-Status", "HIT")
		body := value[r.Start : r.End+1]
		header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
		return &Result{Status: http.StatusPartialContent, Header: header, Body: body}, nil
	}

	return g.multipartRange(meta, value, ranges)
}

func (g *Gateway) multipartRange(meta storedMeta, value []byte, ranges []ByteRange) (*Result, error) {
	length := int64(len(value))
	contentType := meta.Header.Get("Content-Type")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, r := range ranges {
		partHeader := textproto.MIMEHeader{}
		partHeader.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, length))
		if contentType != "" {
			partHeader.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(partHeader)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(value[r.Start : r.End+1]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "multipart/byteranges; boundary="+mw.Boundary())
	header.Set("CF-Cache-Status", "HIT")
	body := buf.Bytes()
	header.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	return &Result{Status: http.StatusPartialContent, Header: header, Body: body}, nil
}

// etagListMatches parses header as a comma-separated list of ETags (weak
// comparison, "W/" stripped) and reports whether any entry matches stored,
// or the list contains the wildcard "*".
func etagListMatches(header, stored string) bool {
	stored = strings.TrimPrefix(strings.TrimSpace(stored), "W/")
	for _, tok := range splitCommaList(header) {
		if tok == "*" {
			return true
		}
		tok = strings.TrimPrefix(tok, "W/")
		if tok == stored {
			return true
		}
	}
	return false
}

// notModifiedSince compares Last-Modified against If-Modified-Since per
// RFC 7231: a match (and thus 304) requires Last-Modified <=
// If-Modified-Since.
func notModifiedSince(lastModified, ifModifiedSince string) bool {
	lm, err := http.ParseTime(lastModified)
	if err != nil {
		return false
	}
	ims, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return false
	}
	return !lm.After(ims)
}

// dummyGetRequest synthesizes the request http.ReadResponse requires to
// decide Content-Length/body-closing semantics; the cache PUT wire format
// never carries the original request, so a plain GET is a safe stand-in.
func dummyGetRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "http://cache.invalid/", nil)
	return req
}
