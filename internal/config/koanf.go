// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a host-tuning file is searched,
// in priority order. The first file found is used.
var DefaultConfigPaths = []string{
	"miniflare.yaml",
	"miniflare.yml",
	"/etc/miniflare-tre/config.yaml",
	"/etc/miniflare-tre/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "MINIFLARE_CONFIG_PATH"

// defaultConfig returns the HostTuning defaults applied before any file or
// env layer: spec §4.1's fixed probe schedule, info/console logging, and a
// loopback-only bind.
func defaultConfig() *HostTuning {
	return &HostTuning{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Loopback: LoopbackConfig{
			Host: "127.0.0.1",
		},
		Persistence: PersistenceConfig{
			Root: ".miniflare/persist",
		},
		ProbeBackoff: ProbeBackoffConfig{
			FastInterval:   10 * time.Millisecond,
			FastAttempts:   10,
			MediumInterval: 50 * time.Millisecond,
			MediumAttempts: 10,
			SlowInterval:   100 * time.Millisecond,
			SlowAttempts:   10,
			SteadyInterval: 1 * time.Second,
		},
	}
}

// LoadWithKoanf loads HostTuning with the standard three-tier precedence:
//
//  1. Defaults: the built-in values above
//  2. Config file: an optional YAML file (see DefaultConfigPaths)
//  3. Environment variables: highest priority, MF_-prefixed
func LoadWithKoanf() (*HostTuning, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("MF_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment variables: %w", err)
	}

	cfg := &HostTuning{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring ConfigPathEnvVar
// before falling back to DefaultConfigPaths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps MF_-prefixed environment variable names onto
// koanf paths, e.g. MF_LOG_LEVEL -> logging.level.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	key = strings.TrimPrefix(key, "mf_")

	envMappings := map[string]string{
		"log_level":  "logging.level",
		"log_format": "logging.format",

		"loopback_host": "loopback.host",

		"persistence_root": "persistence.root",

		"probe_fast_interval":   "probe_backoff.fast_interval",
		"probe_fast_attempts":   "probe_backoff.fast_attempts",
		"probe_medium_interval": "probe_backoff.medium_interval",
		"probe_medium_attempts": "probe_backoff.medium_attempts",
		"probe_slow_interval":   "probe_backoff.slow_interval",
		"probe_slow_attempts":   "probe_backoff.slow_attempts",
		"probe_steady_interval": "probe_backoff.steady_interval",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped MF_* variables are skipped rather than guessed at, so an
	// unrelated environment variable sharing the prefix can't pollute
	// HostTuning.
	return ""
}

// GetKoanfInstance returns a fresh Koanf instance for callers that need
// direct access (e.g. a custom reload path beyond WatchConfigFile).
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile watches path for changes and invokes callback on each
// one. The caller is responsible for synchronizing access to whatever
// HostTuning it swaps in from callback.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
