// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package config

import "fmt"

// validLogLevels are the levels the logging package accepts.
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats are the formats the logging package accepts.
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// Validate checks that HostTuning is internally consistent.
func (c *HostTuning) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateLoopback(); err != nil {
		return err
	}
	if err := c.validatePersistence(); err != nil {
		return err
	}
	return c.validateProbeBackoff()
}

func (c *HostTuning) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("MF_LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("MF_LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *HostTuning) validateLoopback() error {
	if c.Loopback.Host == "" {
		return fmt.Errorf("MF_LOOPBACK_HOST is required")
	}
	return validateBindHost(c.Loopback.Host, "MF_LOOPBACK_HOST")
}

func (c *HostTuning) validatePersistence() error {
	if c.Persistence.Root == "" {
		return fmt.Errorf("MF_PERSISTENCE_ROOT is required")
	}
	return nil
}

func (c *HostTuning) validateProbeBackoff() error {
	intervals := map[string]struct {
		interval int64
		attempts int
	}{
		"MF_PROBE_FAST":   {int64(c.ProbeBackoff.FastInterval), c.ProbeBackoff.FastAttempts},
		"MF_PROBE_MEDIUM": {int64(c.ProbeBackoff.MediumInterval), c.ProbeBackoff.MediumAttempts},
		"MF_PROBE_SLOW":   {int64(c.ProbeBackoff.SlowInterval), c.ProbeBackoff.SlowAttempts},
	}
	for name, v := range intervals {
		if v.attempts < 0 {
			return fmt.Errorf("%s_ATTEMPTS must be non-negative", name)
		}
		if v.attempts > 0 && v.interval <= 0 {
			return fmt.Errorf("%s_INTERVAL must be positive when %s_ATTEMPTS > 0", name, name)
		}
	}
	if int64(c.ProbeBackoff.SteadyInterval) <= 0 {
		return fmt.Errorf("MF_PROBE_STEADY_INTERVAL must be positive")
	}
	return nil
}
