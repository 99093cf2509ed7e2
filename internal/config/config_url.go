// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package config

import (
	"fmt"
	"net"
)

// validateBindHost checks that value is a bare host (IP literal or
// hostname, no scheme/port/path) suitable for net.Listen's address.
func validateBindHost(value, fieldName string) error {
	if net.ParseIP(value) != nil {
		return nil
	}
	// Not an IP literal: accept any hostname-shaped string. A malformed
	// value (scheme, port, path) is rejected here rather than deferred to
	// net.Listen, since that error is harder to trace back to config.
	for _, r := range value {
		if r == '/' || r == ':' || r == '?' {
			return fmt.Errorf("%s must be a bare host (IP or hostname), got %q", fieldName, value)
		}
	}
	return nil
}
