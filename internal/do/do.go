// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package do covers the Durable-Object storage gateway's present scope:
// persistence is not yet supported (spec §4.5), so the only behavior
// this package implements is the service-assembly-time rejection of any
// durable-object binding paired with a configured persistence
// descriptor.
package do

import "github.com/cloudflare/miniflare-tre/internal/hosterr"

// Binding describes a single Durable-Object class declaration on a
// worker (spec §3 "Worker options set").
type Binding struct {
	ClassName  string
	ScriptName string
}

// ValidatePersistence rejects any configuration combining a
// Durable-Object binding with a non-empty persistence descriptor, per
// spec §4.5: "any durable-object binding combined with a configured
// persistence descriptor is rejected at service-assembly time."
func ValidatePersistence(bindings []Binding, persistenceConfigured bool) error {
	if len(bindings) > 0 && persistenceConfigured {
		return hosterr.ErrDurableObjectPersistenceUnsupported
	}
	return nil
}
