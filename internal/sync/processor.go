// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
processor.go - Fleet Data Processor

Pure transformation functions with no I/O: normalize raw platform records
into cache entries, classify liveness from position recency, and aggregate
fleet metrics. Malformed platform records are logged and skipped, never
propagated into the cache.
*/

package sync

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
	"github.com/tomtom215/fleetsight/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Status classification windows. A vehicle is online while its position is
// fresh, offline once it has been silent for hours, and unknown in between
// (or when it has never reported a position at all).
const (
	onlineWindow  = 15 * time.Minute
	offlineWindow = 2 * time.Hour

	// recentlyActiveWindow is deliberately wider than onlineWindow: it
	// answers "seen recently", not "currently live".
	recentlyActiveWindow = 30 * time.Minute
)

// ProcessVehicleData merges raw vehicle identities with their latest
// positions into normalized cache records. Records failing structural
// validation are skipped. lastUpdate comes from the position timestamp, or
// now for vehicles without a usable position.
func ProcessVehicleData(rawVehicles []models.RawVehicle, positions map[string]models.RawPosition, now time.Time) []*models.VehicleRecord {
	records := make([]*models.VehicleRecord, 0, len(rawVehicles))

	for i := range rawVehicles {
		raw := &rawVehicles[i]
		if err := validate.Struct(raw); err != nil {
			metrics.SyncRecordsSkipped.Inc()
			logging.Warn().Err(err).Str("device_id", raw.DeviceID).Msg("Skipping malformed vehicle record")
			continue
		}

		rec := &models.VehicleRecord{
			DeviceID:   raw.DeviceID,
			DeviceName: raw.DeviceName,
			LastUpdate: now,
			Metadata:   vehicleMetadata(raw),
		}

		if rawPos, ok := positions[raw.DeviceID]; ok {
			if err := validate.Struct(&rawPos); err != nil {
				metrics.SyncRecordsSkipped.Inc()
				logging.Warn().Err(err).Str("device_id", raw.DeviceID).Msg("Skipping malformed position record")
			} else {
				rec.LastPosition = rawPos.Position()
				if ts := rawPos.Timestamp(); !ts.IsZero() {
					rec.LastUpdate = ts
				}
			}
		}

		rec.Status = ClassifyStatus(rec.LastPosition, rec.LastUpdate, now)
		records = append(records, rec)
	}

	return records
}

// ClassifyStatus derives liveness purely from position presence and update
// recency. A vehicle without a position is unknown no matter how recent its
// lastUpdate is; the store alone cannot attest liveness.
func ClassifyStatus(pos *models.Position, lastUpdate, now time.Time) models.VehicleStatus {
	if pos == nil {
		return models.VehicleUnknown
	}

	age := now.Sub(lastUpdate)
	switch {
	case age <= onlineWindow:
		return models.VehicleOnline
	case age > offlineWindow:
		return models.VehicleOffline
	default:
		return models.VehicleUnknown
	}
}

// TransformStoreRows maps persisted snapshot rows into cache records. All
// rows classify as unknown: persisted data proves history, not liveness.
func TransformStoreRows(rows []store.VehicleRow) []*models.VehicleRecord {
	records := make([]*models.VehicleRecord, 0, len(rows))
	for i := range rows {
		rec := rows[i].Record()
		rec.Status = models.VehicleUnknown
		records = append(records, rec)
	}
	return records
}

// CalculateMetrics aggregates fleet counters from a cache snapshot.
func CalculateMetrics(vehicles []*models.VehicleRecord, lastSyncTime time.Time, syncStatus models.SyncStatus, errorMessage string, now time.Time) models.VehicleMetrics {
	m := models.VehicleMetrics{
		TotalVehicles: len(vehicles),
		LastSyncTime:  lastSyncTime,
		SyncStatus:    syncStatus,
		ErrorMessage:  errorMessage,
	}

	activeCutoff := now.Add(-recentlyActiveWindow)
	for _, v := range vehicles {
		switch v.Status {
		case models.VehicleOnline, models.VehicleMoving, models.VehicleIdle:
			m.OnlineVehicles++
		case models.VehicleOffline:
			m.OfflineVehicles++
		}
		if v.LastUpdate.After(activeCutoff) {
			m.RecentlyActiveVehicles++
		}
	}

	return m
}

// vehicleMetadata collects the free-form identity fields the platform
// reports alongside a vehicle. Empty fields are omitted.
func vehicleMetadata(raw *models.RawVehicle) map[string]string {
	meta := make(map[string]string, 4)
	if raw.DeviceType != "" {
		meta["device_type"] = raw.DeviceType
	}
	if raw.SimNumber != "" {
		meta["sim_number"] = raw.SimNumber
	}
	if raw.GroupName != "" {
		meta["group"] = raw.GroupName
	}
	if raw.Remark != "" {
		meta["remark"] = raw.Remark
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
