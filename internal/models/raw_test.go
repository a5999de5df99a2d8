// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package models

import (
	"testing"
	"time"
)

func TestRawPositionTimestamp(t *testing.T) {
	t.Parallel()

	serverMs := int64(1767225600000) // 2026-01-01T00:00:00Z
	updateMs := int64(1767225540000) // one minute earlier

	tests := []struct {
		name string
		pos  RawPosition
		want time.Time
	}{
		{
			name: "prefers server time",
			pos:  RawPosition{ServerTime: serverMs, UpdateTime: updateMs},
			want: time.UnixMilli(serverMs),
		},
		{
			name: "falls back to update time",
			pos:  RawPosition{UpdateTime: updateMs},
			want: time.UnixMilli(updateMs),
		},
		{
			name: "zero when neither present",
			pos:  RawPosition{},
			want: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.pos.Timestamp(); !got.Equal(tt.want) {
				t.Errorf("Timestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawPositionPosition(t *testing.T) {
	t.Parallel()

	raw := RawPosition{
		DeviceID:   "dev-1",
		Latitude:   48.85,
		Longitude:  2.35,
		Speed:      60,
		Course:     270,
		ServerTime: 1767225600000,
		StatusText: "ACC on",
	}

	pos := raw.Position()
	if pos.Latitude != 48.85 || pos.Longitude != 2.35 {
		t.Errorf("Position() coordinates = %v,%v", pos.Latitude, pos.Longitude)
	}
	if pos.Speed != 60 || pos.Course != 270 {
		t.Errorf("Position() speed/course = %v/%v", pos.Speed, pos.Course)
	}
	if pos.StatusText != "ACC on" {
		t.Errorf("Position() status = %q", pos.StatusText)
	}
	if !pos.UpdateTime.Equal(time.UnixMilli(1767225600000)) {
		t.Errorf("Position() update time = %v", pos.UpdateTime)
	}
}
