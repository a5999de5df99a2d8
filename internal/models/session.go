// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package models

import "time"

// Session represents one authenticated connection to the external tracking
// platform. A Session is immutable: refreshing produces a new value, it is
// never mutated in place.
type Session struct {
	// Token is the opaque bearer credential issued by the platform.
	Token string `json:"token"`

	// Username is the platform-side identity the token was issued for.
	Username string `json:"username"`

	// ExpiresAt is the absolute expiry timestamp of the token.
	ExpiresAt time.Time `json:"expires_at"`

	// LocalUserID is the internal console user that owns this session.
	LocalUserID string `json:"local_user_id"`
}

// IsValid reports whether the session is usable given the refresh margin.
// A session whose remaining lifetime is within the margin is treated as
// invalid even though it has not technically expired - a safety margin
// against clock skew and in-flight request latency.
func (s *Session) IsValid(now time.Time, margin time.Duration) bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.ExpiresAt.After(now.Add(margin))
}

// TimeRemaining returns the duration until the token expires. Negative if
// already expired.
func (s *Session) TimeRemaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// SessionRecord is a persisted session row in the session store. Records
// outlive process restarts and are the source for session refresh.
type SessionRecord struct {
	ID          string    `json:"id"`
	LocalUserID string    `json:"local_user_id"`
	Username    string    `json:"username"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsExpired reports whether the persisted record's token has passed its
// expiry timestamp.
func (r *SessionRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Session converts the persisted record into an in-memory Session.
func (r *SessionRecord) Session() *Session {
	return &Session{
		Token:       r.Token,
		Username:    r.Username,
		ExpiresAt:   r.ExpiresAt,
		LocalUserID: r.LocalUserID,
	}
}
