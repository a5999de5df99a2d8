// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validatePlatform(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePlatform() error {
	if c.Platform.URL == "" {
		return fmt.Errorf("PLATFORM_URL is required")
	}
	if err := validateHTTPURL(c.Platform.URL, "PLATFORM_URL"); err != nil {
		return err
	}
	if c.Platform.Username == "" {
		return fmt.Errorf("PLATFORM_USERNAME is required")
	}
	if c.Platform.Password == "" {
		return fmt.Errorf("PLATFORM_PASSWORD is required")
	}
	if c.Platform.Timeout <= 0 {
		return fmt.Errorf("PLATFORM_TIMEOUT must be positive")
	}
	if c.Platform.ValidateTimeout <= 0 {
		return fmt.Errorf("PLATFORM_VALIDATE_TIMEOUT must be positive")
	}
	if c.Platform.RateLimit <= 0 {
		return fmt.Errorf("PLATFORM_RATE_LIMIT must be positive")
	}
	if c.Platform.RateBurst < 1 {
		return fmt.Errorf("PLATFORM_RATE_BURST must be at least 1")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.FullInterval <= 0 {
		return fmt.Errorf("SYNC_FULL_INTERVAL must be positive")
	}
	if c.Sync.PositionInterval <= 0 {
		return fmt.Errorf("SYNC_POSITION_INTERVAL must be positive")
	}
	if c.Sync.ActiveWindow <= 0 {
		return fmt.Errorf("SYNC_ACTIVE_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.Interval <= 0 {
		return fmt.Errorf("HEALTH_INTERVAL must be positive")
	}
	if c.Health.InitialDelay < 0 {
		return fmt.Errorf("HEALTH_INITIAL_DELAY must not be negative")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.RefreshMargin <= 0 {
		return fmt.Errorf("SESSION_REFRESH_MARGIN must be positive")
	}
	if c.Session.StorePath == "" {
		return fmt.Errorf("SESSION_STORE_PATH is required")
	}
	// Key material is stretched through HKDF, but demand a minimum of entropy.
	if c.Session.EncryptionKey != "" && len(c.Session.EncryptionKey) < 32 {
		return fmt.Errorf("SESSION_ENCRYPTION_KEY must be at least 32 characters")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.Server.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
	}
	if c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX is required when NATS_ENABLED=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid log level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT %q must be json or console", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks that a value is an absolute http(s) URL.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	return nil
}
