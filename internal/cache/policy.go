// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package cache

import (
	"net/http"
	"time"

	"github.com/pquerna/cachecontrol"
)

// privateSetCookieDirective is the Cache-Control extension spec §4.4
// recognizes as overriding the default "don't store Set-Cookie" rule.
const privateSetCookieDirective = "private=set-cookie"

// policyDecision is the outcome of evaluating whether and for how long a
// response may be cached.
type policyDecision struct {
	Storable       bool
	Expires        time.Time
	StripSetCookie bool
}

// evaluateStorability applies spec §4.4's shared-cache rules: request
// Cache-Control is ignored; Set-Cookie makes a response unstorable unless
// private=set-cookie is present (in which case the header is stripped and
// the response becomes storable); otherwise storability and freshness
// lifetime are delegated to pquerna/cachecontrol, the canonical Go
// implementation of shared-cache HTTP semantics (freshness from max-age,
// s-maxage, Expires, etc.), grounded on the pack's AbelChe-evil_minio
// usage of that library.
//
// Expires is the library's absolute expiration time; it carries no clock
// dependency of its own. The caller (engine.go) is responsible for turning
// it into a stored entry's relative TTL and for every later freshness
// comparison, both done against its injected clock.Clock rather than
// time.Now directly.
func evaluateStorability(resp *http.Response) policyDecision {
	setCookie := resp.Header.Get("Set-Cookie")
	stripSetCookie := false

	if setCookie != "" {
		cc := resp.Header.Get("Cache-Control")
		if !hasDirective(cc, privateSetCookieDirective) {
			return policyDecision{Storable: false}
		}
		stripSetCookie = true
	}

	// pquerna/cachecontrol evaluates the response as a shared cache would,
	// using an empty request since request directives are ignored here
	// per the edge-policy rule.
	req, _ := http.NewRequest(http.MethodGet, "http://cache.invalid/", nil)
	reasons, expires, err := cachecontrol.CachableResponse(req, resp, cachecontrol.Options{})
	if err != nil || len(reasons) > 0 {
		return policyDecision{Storable: false}
	}

	if expires.IsZero() {
		// No explicit freshness lifetime: not cacheable without one,
		// matching a conservative shared-cache default.
		return policyDecision{Storable: false}
	}

	return policyDecision{Storable: true, Expires: expires, StripSetCookie: stripSetCookie}
}

func hasDirective(cacheControl, directive string) bool {
	for _, part := range splitCommaList(cacheControl) {
		if equalFoldTrim(part, directive) {
			return true
		}
	}
	return false
}
