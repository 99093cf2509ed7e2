// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package cache

import (
	"net/http"
	"testing"
	"time"
)

func newResponse(headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: http.StatusOK, Header: h}
}

func TestEvaluateStorability_SetCookieWithoutOverride(t *testing.T) {
	resp := newResponse(map[string]string{
		"Cache-Control": "max-age=60",
		"Set-Cookie":    "session=abc",
		"Date":          time.Now().Format(http.TimeFormat),
	})

	decision := evaluateStorability(resp)
	if decision.Storable {
		t.Fatalf("expected unstorable response with bare Set-Cookie")
	}
}

func TestEvaluateStorability_SetCookieWithPrivateOverride(t *testing.T) {
	resp := newResponse(map[string]string{
		"Cache-Control": "max-age=60, private=set-cookie",
		"Set-Cookie":    "session=abc",
		"Date":          time.Now().Format(http.TimeFormat),
	})

	decision := evaluateStorability(resp)
	if !decision.Storable {
		t.Fatalf("expected storable response when private=set-cookie is present")
	}
	if !decision.StripSetCookie {
		t.Fatalf("expected StripSetCookie to be set")
	}
}

func TestEvaluateStorability_NoStore(t *testing.T) {
	resp := newResponse(map[string]string{
		"Cache-Control": "no-store",
		"Date":          time.Now().Format(http.TimeFormat),
	})

	decision := evaluateStorability(resp)
	if decision.Storable {
		t.Fatalf("expected no-store response to be unstorable")
	}
}

func TestEvaluateStorability_MaxAgeIsStorable(t *testing.T) {
	resp := newResponse(map[string]string{
		"Cache-Control": "max-age=3600",
		"Date":          time.Now().Format(http.TimeFormat),
	})

	decision := evaluateStorability(resp)
	if !decision.Storable {
		t.Fatalf("expected max-age response to be storable")
	}
	if decision.Expires.IsZero() {
		t.Fatalf("expected a non-zero expiration")
	}
}

func TestHasDirective(t *testing.T) {
	if !hasDirective("max-age=60, private=set-cookie", privateSetCookieDirective) {
		t.Fatalf("expected directive to be found")
	}
	if hasDirective("max-age=60", privateSetCookieDirective) {
		t.Fatalf("expected directive to be absent")
	}
}

func TestSplitCommaList(t *testing.T) {
	got := splitCommaList(" a , b,  , c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
