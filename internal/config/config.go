// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

// Package config provides centralized configuration management for
// Fleetsight.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Platform PlatformConfig `koanf:"platform"`
	Sync     SyncConfig     `koanf:"sync"`
	Health   HealthConfig   `koanf:"health"`
	Session  SessionConfig  `koanf:"session"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// PlatformConfig holds the external tracking platform connection settings.
//
// Environment Variables:
//   - PLATFORM_URL: Tracking platform base URL (required)
//   - PLATFORM_USERNAME: Platform account name (required)
//   - PLATFORM_PASSWORD: Platform account password (required)
//   - PLATFORM_TIMEOUT: Per-request timeout (default: 15s)
//   - PLATFORM_VALIDATE_TIMEOUT: Remote token validation timeout (default: 5s)
//   - PLATFORM_RATE_LIMIT: Sustained requests per second (default: 10)
//   - PLATFORM_RATE_BURST: Burst allowance (default: 5)
type PlatformConfig struct {
	URL             string        `koanf:"url"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	Timeout         time.Duration `koanf:"timeout"`
	ValidateTimeout time.Duration `koanf:"validate_timeout"`
	RateLimit       float64       `koanf:"rate_limit"`
	RateBurst       int           `koanf:"rate_burst"`
}

// SyncConfig holds the vehicle cache synchronization settings.
//
// Environment Variables:
//   - SYNC_FULL_INTERVAL: Full vehicle+position sync interval (default: 60s)
//   - SYNC_POSITION_INTERVAL: Position-only sync interval (default: 30s)
//   - SYNC_ACTIVE_WINDOW: Recency window selecting which vehicles the
//     position-only sync refreshes (default: 5m)
type SyncConfig struct {
	FullInterval     time.Duration `koanf:"full_interval"`
	PositionInterval time.Duration `koanf:"position_interval"`
	ActiveWindow     time.Duration `koanf:"active_window"`
}

// HealthConfig holds the connection health monitor settings.
//
// Environment Variables:
//   - HEALTH_INTERVAL: Periodic health check interval (default: 5m)
//   - HEALTH_INITIAL_DELAY: Delay before the first check after startup,
//     giving the initial sync time to populate the cache (default: 10s)
type HealthConfig struct {
	Interval     time.Duration `koanf:"interval"`
	InitialDelay time.Duration `koanf:"initial_delay"`
}

// SessionConfig holds platform session lifecycle settings.
//
// Environment Variables:
//   - SESSION_REFRESH_MARGIN: Remaining token lifetime below which a session
//     is refreshed proactively (default: 5m)
//   - SESSION_STORE_PATH: Badger session store directory (default: /data/sessions)
//   - SESSION_ENCRYPTION_KEY: Key material for encrypting tokens at rest.
//     Tokens are stored in plaintext when empty.
type SessionConfig struct {
	RefreshMargin time.Duration `koanf:"refresh_margin"`
	StorePath     string        `koanf:"store_path"`
	EncryptionKey string        `koanf:"encryption_key"`
}

// DatabaseConfig holds DuckDB settings for the vehicle store.
//
// Environment Variables:
//   - DUCKDB_PATH: Database file path (default: /data/fleetsight.duckdb)
//   - DUCKDB_MAX_MEMORY: Memory limit, e.g. "2GB" (default: 2GB)
//   - DUCKDB_THREADS: Worker threads, 0 = runtime.NumCPU() (default: 0)
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 3858)
//   - HTTP_HOST: Listen address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Request read/write timeout (default: 30s)
//   - RATE_LIMIT_REQUESTS: Requests per window per client (default: 100)
//   - RATE_LIMIT_WINDOW: Rate limit window (default: 1m)
//   - CORS_ORIGINS: Comma-separated allowed origins (default: *)
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// NATSConfig holds optional NATS event publishing settings.
//
// Environment Variables:
//   - NATS_ENABLED: Enable event publishing (default: false)
//   - NATS_URL: NATS server URL (default: nats://127.0.0.1:4222)
//   - NATS_SUBJECT_PREFIX: Subject prefix for published events (default: fleet)
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - LOG_CALLER: Include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
