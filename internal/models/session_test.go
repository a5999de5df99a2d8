// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package models

import (
	"testing"
	"time"
)

func TestSessionIsValid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	margin := 5 * time.Minute

	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{
			name:    "nil session",
			session: nil,
			want:    false,
		},
		{
			name:    "empty token",
			session: &Session{ExpiresAt: now.Add(time.Hour)},
			want:    false,
		},
		{
			name:    "expires well in the future",
			session: &Session{Token: "tok", ExpiresAt: now.Add(time.Hour)},
			want:    true,
		},
		{
			name:    "expires inside the refresh margin",
			session: &Session{Token: "tok", ExpiresAt: now.Add(4 * time.Minute)},
			want:    false,
		},
		{
			name:    "expires just outside the refresh margin",
			session: &Session{Token: "tok", ExpiresAt: now.Add(6 * time.Minute)},
			want:    true,
		},
		{
			name:    "exactly at the margin boundary",
			session: &Session{Token: "tok", ExpiresAt: now.Add(margin)},
			want:    false,
		},
		{
			name:    "already expired",
			session: &Session{Token: "tok", ExpiresAt: now.Add(-time.Minute)},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.session.IsValid(now, margin); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionTimeRemaining(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := &Session{Token: "tok", ExpiresAt: now.Add(30 * time.Minute)}
	if got := s.TimeRemaining(now); got != 30*time.Minute {
		t.Errorf("TimeRemaining() = %v, want 30m", got)
	}

	expired := &Session{Token: "tok", ExpiresAt: now.Add(-time.Minute)}
	if got := expired.TimeRemaining(now); got >= 0 {
		t.Errorf("TimeRemaining() = %v, want negative", got)
	}
}

func TestSessionRecordIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	live := &SessionRecord{ExpiresAt: now.Add(time.Hour)}
	if live.IsExpired(now) {
		t.Error("record expiring in 1h reported expired")
	}

	dead := &SessionRecord{ExpiresAt: now.Add(-time.Second)}
	if !dead.IsExpired(now) {
		t.Error("record expired 1s ago reported live")
	}

	boundary := &SessionRecord{ExpiresAt: now}
	if !boundary.IsExpired(now) {
		t.Error("record expiring exactly now should be expired")
	}
}

func TestSessionRecordSession(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour)
	rec := &SessionRecord{
		ID:          "rec-1",
		LocalUserID: "user-1",
		Username:    "admin",
		Token:       "tok",
		ExpiresAt:   exp,
	}

	s := rec.Session()
	if s.Token != "tok" || s.Username != "admin" || s.LocalUserID != "user-1" {
		t.Errorf("Session() = %+v, fields not carried over", s)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("Session().ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
}
