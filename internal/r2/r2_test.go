// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package r2

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

func newTestGateway(now time.Time) *Gateway {
	return NewGateway(storage.NewMemoryStore(), clock.NewFake(now))
}

func TestGateway_PutHeadGet(t *testing.T) {
	gw := newTestGateway(time.Now())
	ctx := context.Background()

	obj, err := gw.Put(ctx, "k1", []byte("hello"), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Meta.ETag == "" {
		t.Fatalf("expected non-empty ETag")
	}

	head, err := gw.Head(ctx, "k1")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Meta.ETag != obj.Meta.ETag {
		t.Fatalf("head ETag mismatch")
	}

	got, matched, err := gw.Get(ctx, "k1", Conditional{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !matched || string(got.Body) != "hello" {
		t.Fatalf("unexpected Get result: %+v matched=%v", got, matched)
	}
}

func TestGateway_Put_ChecksumMismatch(t *testing.T) {
	gw := newTestGateway(time.Now())
	wrongSum := sha256.Sum256([]byte("not-the-value"))
	_, err := gw.Put(context.Background(), "k1", []byte("hello"), PutOptions{SHA256: hex.EncodeToString(wrongSum[:])})
	if err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
	status, _, ok := Status(err)
	if !ok || status != 400 {
		t.Fatalf("expected 400 status, got %d ok=%v", status, ok)
	}
}

func TestGateway_Put_ChecksumMatch(t *testing.T) {
	gw := newTestGateway(time.Now())
	sum := sha256.Sum256([]byte("hello"))
	_, err := gw.Put(context.Background(), "k1", []byte("hello"), PutOptions{SHA256: hex.EncodeToString(sum[:])})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestGateway_Head_NotFound(t *testing.T) {
	gw := newTestGateway(time.Now())
	_, err := gw.Head(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected not-found error")
	}
	status, _, ok := Status(err)
	if !ok || status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestGateway_Put_IfMatchPrecondition(t *testing.T) {
	gw := newTestGateway(time.Now())
	ctx := context.Background()

	obj, err := gw.Put(ctx, "k1", []byte("v1"), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err = gw.Put(ctx, "k1", []byte("v2"), PutOptions{Conditional: Conditional{IfMatch: `"wrong-etag"`}})
	if err == nil {
		t.Fatalf("expected precondition failed")
	}

	_, err = gw.Put(ctx, "k1", []byte("v2"), PutOptions{Conditional: Conditional{IfMatch: `"` + obj.Meta.ETag + `"`}})
	if err != nil {
		t.Fatalf("expected matching If-Match to succeed: %v", err)
	}
}

func TestGateway_Get_IfNoneMatch(t *testing.T) {
	gw := newTestGateway(time.Now())
	ctx := context.Background()

	obj, err := gw.Put(ctx, "k1", []byte("v1"), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, matched, err := gw.Get(ctx, "k1", Conditional{IfNoneMatch: `"` + obj.Meta.ETag + `"`})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if matched {
		t.Fatalf("expected If-None-Match on matching ETag to report not-matched")
	}
}

func TestGateway_Delete(t *testing.T) {
	gw := newTestGateway(time.Now())
	ctx := context.Background()

	if _, err := gw.Put(ctx, "k1", []byte("v"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := gw.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := gw.Head(ctx, "k1"); err == nil {
		t.Fatalf("expected key to be gone after delete")
	}
}

func TestGateway_List_DelimitedPrefixes(t *testing.T) {
	gw := newTestGateway(time.Now())
	ctx := context.Background()

	for _, k := range []string{"a/1", "a/2", "b/1", "root"} {
		if _, err := gw.Put(ctx, k, []byte("v"), PutOptions{}); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	res, err := gw.List(ctx, ListOptions{Delimiter: "/"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.DelimitedPrefixes) != 2 {
		t.Fatalf("expected 2 delimited prefixes, got %v", res.DelimitedPrefixes)
	}
	found := false
	for _, obj := range res.Objects {
		if obj.Key == "root" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected non-delimited key 'root' in objects, got %+v", res.Objects)
	}
}
