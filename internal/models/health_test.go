// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package models

import "testing"

func TestComposeHealthState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		sessionValid bool
		apiReachable bool
		dataFlowing  bool
		want         HealthState
	}{
		{"all probes pass", true, true, true, HealthHealthy},
		{"data flow stalled", true, true, false, HealthDegraded},
		{"session invalid", false, true, true, HealthCritical},
		{"api unreachable", true, false, true, HealthCritical},
		{"session invalid and api unreachable", false, false, false, HealthCritical},
		{"only data flowing", false, false, true, HealthCritical},
		{"all probes fail", false, false, false, HealthCritical},
		{"api unreachable but data flag set", false, true, false, HealthCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComposeHealthState(tt.sessionValid, tt.apiReachable, tt.dataFlowing)
			if got != tt.want {
				t.Errorf("ComposeHealthState(%v, %v, %v) = %v, want %v",
					tt.sessionValid, tt.apiReachable, tt.dataFlowing, got, tt.want)
			}
		})
	}
}
