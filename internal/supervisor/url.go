// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package supervisor

import "net/url"

// rewriteHost replaces raw's scheme+host with entryURL's, preserving
// path/query (spec §4.1 dispatchFetch: "rewrites the host of the URL to
// the current entry URL, and forwards").
func rewriteHost(raw, entryURL string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	entry, err := url.Parse(entryURL)
	if err != nil {
		return "", err
	}
	u.Scheme = entry.Scheme
	u.Host = entry.Host
	return u.String(), nil
}
