// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/models"
)

func newTestVehicleStore(t *testing.T) *VehicleStore {
	t.Helper()
	s, err := NewVehicleStore(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "512MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("NewVehicleStore() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleVehicle(deviceID string, lastUpdate time.Time) *models.VehicleRecord {
	return &models.VehicleRecord{
		DeviceID:   deviceID,
		DeviceName: "Truck " + deviceID,
		Status:     models.VehicleOnline,
		LastPosition: &models.Position{
			Latitude:   51.5,
			Longitude:  -0.12,
			Speed:      40,
			Course:     180,
			UpdateTime: lastUpdate,
			StatusText: "moving",
		},
		LastUpdate: lastUpdate,
		Metadata:   map[string]string{"group": "north"},
	}
}

func TestVehicleStoreUpsertAndRead(t *testing.T) {
	t.Parallel()

	s := newTestVehicleStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	records := []*models.VehicleRecord{
		sampleVehicle("dev-1", now),
		{DeviceID: "dev-2", DeviceName: "Van 2", Status: models.VehicleUnknown, LastUpdate: now},
	}
	if err := s.UpsertVehicles(ctx, records); err != nil {
		t.Fatalf("UpsertVehicles() error: %v", err)
	}

	rows, err := s.ReadAllVehicles(ctx)
	if err != nil {
		t.Fatalf("ReadAllVehicles() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ReadAllVehicles() returned %d rows, want 2", len(rows))
	}

	byID := map[string]VehicleRow{}
	for _, r := range rows {
		byID[r.DeviceID] = r
	}

	row1 := byID["dev-1"]
	rec := row1.Record()
	if rec.DeviceName != "Truck dev-1" || rec.Status != models.VehicleOnline {
		t.Errorf("dev-1 record = %+v", rec)
	}
	if rec.LastPosition == nil || rec.LastPosition.Latitude != 51.5 {
		t.Errorf("dev-1 position = %+v", rec.LastPosition)
	}
	if rec.Metadata["group"] != "north" {
		t.Errorf("dev-1 metadata = %v", rec.Metadata)
	}

	row2 := byID["dev-2"]
	rec2 := row2.Record()
	if rec2.LastPosition != nil {
		t.Errorf("dev-2 should have no position, got %+v", rec2.LastPosition)
	}
}

func TestVehicleStoreUpsertReplaces(t *testing.T) {
	t.Parallel()

	s := newTestVehicleStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.UpsertVehicles(ctx, []*models.VehicleRecord{sampleVehicle("dev-1", now)}); err != nil {
		t.Fatalf("UpsertVehicles() error: %v", err)
	}

	updated := sampleVehicle("dev-1", now.Add(time.Minute))
	updated.DeviceName = "Renamed"
	updated.Status = models.VehicleOffline
	if err := s.UpsertVehicles(ctx, []*models.VehicleRecord{updated}); err != nil {
		t.Fatalf("UpsertVehicles(updated) error: %v", err)
	}

	rows, err := s.ReadAllVehicles(ctx)
	if err != nil {
		t.Fatalf("ReadAllVehicles() error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows after re-upsert, want 1", len(rows))
	}
	if rows[0].DeviceName != "Renamed" || rows[0].Status != "offline" {
		t.Errorf("row after re-upsert = %+v", rows[0])
	}
}

func TestVehicleStoreUpsertPosition(t *testing.T) {
	t.Parallel()

	s := newTestVehicleStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.UpsertVehicles(ctx, []*models.VehicleRecord{sampleVehicle("dev-1", now)}); err != nil {
		t.Fatalf("UpsertVehicles() error: %v", err)
	}

	newPos := &models.Position{
		Latitude:   48.85,
		Longitude:  2.35,
		Speed:      72,
		Course:     90,
		UpdateTime: now.Add(30 * time.Second),
		StatusText: "highway",
	}
	if err := s.UpsertPosition(ctx, "dev-1", newPos, now.Add(30*time.Second)); err != nil {
		t.Fatalf("UpsertPosition() error: %v", err)
	}

	rows, err := s.ReadAllVehicles(ctx)
	if err != nil {
		t.Fatalf("ReadAllVehicles() error: %v", err)
	}
	rec := rows[0].Record()
	if rec.LastPosition.Latitude != 48.85 || rec.LastPosition.Speed != 72 {
		t.Errorf("position after update = %+v", rec.LastPosition)
	}
	// Identity columns must be untouched by a position-only update.
	if rec.DeviceName != "Truck dev-1" {
		t.Errorf("device name changed by position update: %q", rec.DeviceName)
	}
}

func TestVehicleStoreDeleteMissing(t *testing.T) {
	t.Parallel()

	s := newTestVehicleStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpsertVehicles(ctx, []*models.VehicleRecord{
		sampleVehicle("dev-1", now),
		sampleVehicle("dev-2", now),
		sampleVehicle("dev-3", now),
	}); err != nil {
		t.Fatalf("UpsertVehicles() error: %v", err)
	}

	if err := s.DeleteMissing(ctx, []string{"dev-1", "dev-3"}); err != nil {
		t.Fatalf("DeleteMissing() error: %v", err)
	}

	rows, err := s.ReadAllVehicles(ctx)
	if err != nil {
		t.Fatalf("ReadAllVehicles() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows after delete, want 2", len(rows))
	}
	for _, r := range rows {
		if r.DeviceID == "dev-2" {
			t.Error("dev-2 should have been deleted")
		}
	}
}
