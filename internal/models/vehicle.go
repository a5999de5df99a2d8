// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package models

import "time"

// VehicleStatus classifies a tracked asset's liveness.
type VehicleStatus string

// Vehicle status values.
const (
	VehicleOnline  VehicleStatus = "online"
	VehicleOffline VehicleStatus = "offline"
	VehicleMoving  VehicleStatus = "moving"
	VehicleIdle    VehicleStatus = "idle"
	VehicleUnknown VehicleStatus = "unknown"
)

// SyncStatus describes the outcome of the most recent cache mutation.
type SyncStatus string

// Sync status values.
const (
	SyncSuccess    SyncStatus = "success"
	SyncError      SyncStatus = "error"
	SyncInProgress SyncStatus = "in_progress"
)

// Position is the last known GPS fix of a vehicle.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      float64   `json:"speed"`
	Course     float64   `json:"course"`
	UpdateTime time.Time `json:"update_time"`
	StatusText string    `json:"status_text,omitempty"`
}

// VehicleRecord is the normalized cache entry for one tracked asset.
// DeviceID is the stable external identifier and the unique cache key.
type VehicleRecord struct {
	DeviceID     string            `json:"device_id"`
	DeviceName   string            `json:"device_name"`
	Status       VehicleStatus     `json:"status"`
	LastPosition *Position         `json:"last_position,omitempty"`
	LastUpdate   time.Time         `json:"last_update"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy. Cache consumers receive copies, never the live
// internal record.
func (v *VehicleRecord) Clone() *VehicleRecord {
	if v == nil {
		return nil
	}
	out := *v
	if v.LastPosition != nil {
		pos := *v.LastPosition
		out.LastPosition = &pos
	}
	if v.Metadata != nil {
		out.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			out.Metadata[k] = val
		}
	}
	return &out
}

// VehicleMetrics are aggregate counters derived from the cache. They are
// recomputed after every cache mutation and never persisted.
type VehicleMetrics struct {
	TotalVehicles          int        `json:"total_vehicles"`
	OnlineVehicles         int        `json:"online_vehicles"`
	OfflineVehicles        int        `json:"offline_vehicles"`
	RecentlyActiveVehicles int        `json:"recently_active_vehicles"`
	LastSyncTime           time.Time  `json:"last_sync_time"`
	SyncStatus             SyncStatus `json:"sync_status"`
	ErrorMessage           string     `json:"error_message,omitempty"`
}
