// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package models

import "time"

// HealthState is the operator-facing summary of platform connectivity.
type HealthState string

// Health states.
const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)

// HealthStatus is a derived value recomputed on every check. The previous
// value is retained until a new one is produced.
type HealthStatus struct {
	Status       HealthState `json:"status"`
	LastCheck    time.Time   `json:"last_check"`
	SessionValid bool        `json:"session_valid"`
	APIReachable bool        `json:"api_reachable"`
	DataFlowing  bool        `json:"data_flowing"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// ComposeHealthState derives the summary state from the three probe results.
// healthy iff all three are true; degraded iff only data flow failed;
// critical otherwise. No other combination is representable.
func ComposeHealthState(sessionValid, apiReachable, dataFlowing bool) HealthState {
	switch {
	case sessionValid && apiReachable && dataFlowing:
		return HealthHealthy
	case sessionValid && apiReachable:
		return HealthDegraded
	default:
		return HealthCritical
	}
}
