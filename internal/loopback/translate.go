// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package loopback

import (
	"net"
	"net/http"
	"strings"

	"github.com/cloudflare/miniflare-tre/internal/middleware"
)

// hopByHopHeaders are stripped from inbound requests per spec §4.2.
var hopByHopHeaders = []string{"Transfer-Encoding", "Connection", "Keep-Alive", "Expect"}

// webSocketNegotiationHeaders are additionally stripped on upgrade
// requests once the upgrade has been handled locally.
var webSocketNegotiationHeaders = []string{
	"Upgrade", "Sec-WebSocket-Key", "Sec-WebSocket-Version",
	"Sec-WebSocket-Extensions", "Sec-WebSocket-Protocol",
}

// CFHeaders carries the synthesized cf-* metadata a real edge request
// would have attached; zero values are overridable per-request.
type CFHeaders struct {
	ForwardedProto string
	RealIP         string
	ConnectingIP   string
	IPCountry      string
	Ray            string
	Visitor        string
}

// StripHopByHop removes hop-by-hop headers from header in place.
func StripHopByHop(header http.Header) {
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
}

// StripWebSocketNegotiation removes WebSocket-negotiation headers from
// header in place, used once the loopback server has already handled an
// upgrade locally and is forwarding a plain request onward.
func StripWebSocketNegotiation(header http.Header) {
	for _, h := range webSocketNegotiationHeaders {
		header.Del(h)
	}
}

// ApplyCFHeaders sets the synthesized cf-* header set on header, skipping
// any field left at its zero value.
func ApplyCFHeaders(header http.Header, cf CFHeaders) {
	set := func(name, value string) {
		if value != "" {
			header.Set(name, value)
		}
	}
	set("X-Forwarded-Proto", cf.ForwardedProto)
	set("X-Real-IP", cf.RealIP)
	set("CF-Connecting-IP", cf.ConnectingIP)
	set("CF-IPCountry", cf.IPCountry)
	set("CF-Ray", cf.Ray)
	set("CF-Visitor", cf.Visitor)
}

// JoinMultiValued joins multi-valued headers with ", " except Set-Cookie,
// which a shared cache (and this loopback server) must preserve as
// distinct values rather than folding per RFC 7230 §3.2.2.
func JoinMultiValued(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		if strings.EqualFold(name, "Set-Cookie") {
			out[name] = append([]string(nil), values...)
			continue
		}
		out.Set(name, strings.Join(values, ", "))
	}
	return out
}

// translateRequest applies spec §4.2's inbound loopback translations to r
// in place: hop-by-hop headers are always stripped, WebSocket-negotiation
// headers are additionally stripped once r has already been handled as an
// upgrade locally, multi-valued headers are joined, and the synthesized
// cf-* header set is applied.
func translateRequest(r *http.Request) {
	StripHopByHop(r.Header)
	if r.Header.Get("Upgrade") != "" {
		StripWebSocketNegotiation(r.Header)
	}
	r.Header = JoinMultiValued(r.Header)
	ApplyCFHeaders(r.Header, cfHeadersFromRequest(r))
}

// cfHeadersFromRequest synthesizes the cf-* header set a real edge request
// would carry, derived from the local connection the loopback server
// actually has.
func cfHeadersFromRequest(r *http.Request) CFHeaders {
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return CFHeaders{
		ForwardedProto: proto,
		RealIP:         ip,
		ConnectingIP:   ip,
		Ray:            middleware.GetRequestID(r.Context()),
	}
}
