// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

func newTestGateway(now time.Time) (*Gateway, *clock.Fake) {
	reg := storage.NewMemoryRegistry()
	fake := clock.NewFake(now)
	return NewGateway(reg.Get("test"), fake), fake
}

func rawResponse(t *testing.T, status int, headers map[string]string, body string) []byte {
	t.Helper()
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}

	var buf bytes.Buffer
	if err := resp.Write(&buf); err != nil {
		t.Fatalf("writing raw response: %v", err)
	}
	return buf.Bytes()
}

func TestGateway_PutGet_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, _ := newTestGateway(now)
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Content-Type":  "text/plain",
		"Date":          now.Format(http.TimeFormat),
	}, "hello world")

	stored, err := gw.Put(ctx, "/greeting", raw)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !stored {
		t.Fatalf("expected response to be stored")
	}

	result, err := gw.Match(ctx, "/greeting", http.Header{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.Status)
	}
	if result.Header.Get("CF-Cache-Status") != "HIT" {
		t.Fatalf("expected CF-Cache-Status: HIT, got %q", result.Header.Get("CF-Cache-Status"))
	}
	if string(result.Body) != "hello world" {
		t.Fatalf("unexpected body: %q", result.Body)
	}
}

func TestGateway_Put_NoStoreIsNoOp(t *testing.T) {
	gw, _ := newTestGateway(time.Now())
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "no-store",
		"Date":          time.Now().Format(http.TimeFormat),
	}, "secret")

	stored, err := gw.Put(ctx, "/secret", raw)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if stored {
		t.Fatalf("expected no-store response not to be stored")
	}

	result, err := gw.Match(ctx, "/secret", http.Header{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected miss (504), got %d", result.Status)
	}
}

func TestGateway_Match_Miss(t *testing.T) {
	gw, _ := newTestGateway(time.Now())
	result, err := gw.Match(context.Background(), "/never-put", http.Header{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", result.Status)
	}
	if result.Header.Get("CF-Cache-Status") != "MISS" {
		t.Fatalf("expected MISS, got %q", result.Header.Get("CF-Cache-Status"))
	}
}

func TestGateway_Match_IfNoneMatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, _ := newTestGateway(now)
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"ETag":          `"v1"`,
		"Date":          now.Format(http.TimeFormat),
	}, "content")

	if _, err := gw.Put(ctx, "/etagged", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reqHeader := http.Header{}
	reqHeader.Set("If-None-Match", `"v1"`)
	result, err := gw.Match(ctx, "/etagged", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", result.Status)
	}

	reqHeader.Set("If-None-Match", `"different"`)
	result, err = gw.Match(ctx, "/etagged", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200 for non-matching ETag, got %d", result.Status)
	}
}

func TestGateway_Match_IfModifiedSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastModified := now.Add(-time.Hour)
	gw, _ := newTestGateway(now)
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Last-Modified": lastModified.Format(http.TimeFormat),
		"Date":          now.Format(http.TimeFormat),
	}, "content")

	if _, err := gw.Put(ctx, "/dated", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reqHeader := http.Header{}
	reqHeader.Set("If-Modified-Since", now.Format(http.TimeFormat))
	result, err := gw.Match(ctx, "/dated", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", result.Status)
	}

	reqHeader.Set("If-Modified-Since", lastModified.Add(-2*time.Hour).Format(http.TimeFormat))
	result, err = gw.Match(ctx, "/dated", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200 for stale If-Modified-Since, got %d", result.Status)
	}
}

func TestGateway_Match_SingleRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, _ := newTestGateway(now)
	ctx := context.Background()

	body := "0123456789"
	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Date":          now.Format(http.TimeFormat),
	}, body)

	if _, err := gw.Put(ctx, "/ranged", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reqHeader := http.Header{}
	reqHeader.Set("Range", "bytes=2-5")
	result, err := gw.Match(ctx, "/ranged", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", result.Status)
	}
	if string(result.Body) != "2345" {
		t.Fatalf("unexpected range body: %q", result.Body)
	}
	if result.Header.Get("Content-Range") != "bytes 2-5/10" {
		t.Fatalf("unexpected Content-Range: %q", result.Header.Get("Content-Range"))
	}
}

func TestGateway_Match_MultipartRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, _ := newTestGateway(now)
	ctx := context.Background()

	body := "0123456789"
	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Date":          now.Format(http.TimeFormat),
	}, body)

	if _, err := gw.Put(ctx, "/multi", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reqHeader := http.Header{}
	reqHeader.Set("Range", "bytes=0-1,5-6")
	result, err := gw.Match(ctx, "/multi", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", result.Status)
	}
	if !bytes.Contains(result.Body, []byte("multipart/byteranges")) && !bytes.HasPrefix([]byte(result.Header.Get("Content-Type")), []byte("multipart/byteranges")) {
		t.Fatalf("expected multipart/byteranges content type, got %q", result.Header.Get("Content-Type"))
	}
}

func TestGateway_Match_UnsatisfiableRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, _ := newTestGateway(now)
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Date":          now.Format(http.TimeFormat),
	}, "0123456789")

	if _, err := gw.Put(ctx, "/unsat", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reqHeader := http.Header{}
	reqHeader.Set("Range", "bytes=100-200")
	result, err := gw.Match(ctx, "/unsat", reqHeader)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", result.Status)
	}
	if result.Header.Get("Content-Range") != "bytes */10" {
		t.Fatalf("unexpected Content-Range: %q", result.Header.Get("Content-Range"))
	}
}

func TestGateway_Match_ExpiredEntryIsMiss(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, fake := newTestGateway(now)
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=60",
		"Date":          now.Format(http.TimeFormat),
	}, "will expire")

	if _, err := gw.Put(ctx, "/ephemeral", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fake.Advance(2 * time.Minute)

	result, err := gw.Match(ctx, "/ephemeral", http.Header{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected expired entry to miss, got %d", result.Status)
	}
}

func TestGateway_Purge(t *testing.T) {
	gw, _ := newTestGateway(time.Now())
	ctx := context.Background()

	result, err := gw.Purge(ctx, "/never-existed")
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if result.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for absent key, got %d", result.Status)
	}

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Date":          time.Now().Format(http.TimeFormat),
	}, "present")
	if _, err := gw.Put(ctx, "/present", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err = gw.Purge(ctx, "/present")
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.Status)
	}

	result, err = gw.Match(ctx, "/present", http.Header{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected purged key to miss, got %d", result.Status)
	}
}

func TestGateway_SitesBypass(t *testing.T) {
	gw, _ := newTestGateway(time.Now())
	ctx := context.Background()

	raw := rawResponse(t, http.StatusOK, map[string]string{
		"Cache-Control": "max-age=3600",
		"Date":          time.Now().Format(http.TimeFormat),
	}, "asset")

	stored, err := gw.Put(ctx, "/cdn-cgi/mf/sites/asset.js", raw)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if stored {
		t.Fatalf("expected sites-bypass Put to be a no-op")
	}

	result, err := gw.Match(ctx, "/cdn-cgi/mf/sites/asset.js", http.Header{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected sites-bypass Match to miss, got %d", result.Status)
	}
}
