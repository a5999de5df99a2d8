// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
vehicles.go - DuckDB Vehicle Store

Persists the synchronized fleet snapshot so the in-memory cache can be
rehydrated on restart without waiting for the first platform sync. The
store is written by the sync loops and read once at startup.
*/

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
)

// VehicleRow is one persisted fleet snapshot row. Position columns are NULL
// for vehicles that have never reported a fix.
type VehicleRow struct {
	DeviceID     string
	DeviceName   string
	Status       string
	Latitude     sql.NullFloat64
	Longitude    sql.NullFloat64
	Speed        sql.NullFloat64
	Course       sql.NullFloat64
	StatusText   sql.NullString
	PositionTime sql.NullTime
	LastUpdate   time.Time
	Metadata     sql.NullString // JSON-encoded map
}

// VehicleStore persists fleet snapshots in DuckDB.
type VehicleStore struct {
	db *sql.DB
}

const vehicleSchema = `
CREATE TABLE IF NOT EXISTS vehicles (
    device_id     VARCHAR PRIMARY KEY,
    device_name   VARCHAR NOT NULL DEFAULT '',
    status        VARCHAR NOT NULL DEFAULT 'unknown',
    latitude      DOUBLE,
    longitude     DOUBLE,
    speed         DOUBLE,
    course        DOUBLE,
    status_text   VARCHAR,
    position_time TIMESTAMP,
    last_update   TIMESTAMP NOT NULL,
    metadata      VARCHAR
)`

// NewVehicleStore opens (or creates) the DuckDB vehicle store.
func NewVehicleStore(cfg *config.DatabaseConfig) (*VehicleStore, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for the database file.
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Disable auto-install/auto-load to prevent hangs in restricted
	// network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is an embedded single-writer database.
	db.SetMaxOpenConns(1)

	store := &VehicleStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *VehicleStore) initSchema() error {
	_, err := s.db.Exec(vehicleSchema)
	return err
}

// Close closes the underlying database.
func (s *VehicleStore) Close() error {
	return s.db.Close()
}

// ReadAllVehicles returns every persisted fleet row, for cache hydration.
func (s *VehicleStore) ReadAllVehicles(ctx context.Context) ([]VehicleRow, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, device_name, status, latitude, longitude, speed,
		       course, status_text, position_time, last_update, metadata
		FROM vehicles`)
	metrics.RecordDBQuery("select", "vehicles", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("read vehicles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VehicleRow
	for rows.Next() {
		var r VehicleRow
		if err := rows.Scan(&r.DeviceID, &r.DeviceName, &r.Status,
			&r.Latitude, &r.Longitude, &r.Speed, &r.Course,
			&r.StatusText, &r.PositionTime, &r.LastUpdate, &r.Metadata); err != nil {
			return nil, fmt.Errorf("scan vehicle row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vehicle rows: %w", err)
	}

	return out, nil
}

// UpsertVehicles writes a batch of vehicle records in one transaction.
func (s *VehicleStore) UpsertVehicles(ctx context.Context, records []*models.VehicleRecord) error {
	start := time.Now()
	err := s.upsertVehicles(ctx, records)
	metrics.RecordDBQuery("upsert", "vehicles", time.Since(start), err)
	return err
}

func (s *VehicleStore) upsertVehicles(ctx context.Context, records []*models.VehicleRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicles (device_id, device_name, status, latitude, longitude,
		                      speed, course, status_text, position_time, last_update, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
		    device_name   = excluded.device_name,
		    status        = excluded.status,
		    latitude      = excluded.latitude,
		    longitude     = excluded.longitude,
		    speed         = excluded.speed,
		    course        = excluded.course,
		    status_text   = excluded.status_text,
		    position_time = excluded.position_time,
		    last_update   = excluded.last_update,
		    metadata      = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		var lat, lon, speed, course any
		var statusText, positionTime any
		if pos := rec.LastPosition; pos != nil {
			lat, lon, speed, course = pos.Latitude, pos.Longitude, pos.Speed, pos.Course
			if pos.StatusText != "" {
				statusText = pos.StatusText
			}
			if !pos.UpdateTime.IsZero() {
				positionTime = pos.UpdateTime
			}
		}

		var metadata any
		if len(rec.Metadata) > 0 {
			encoded, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", rec.DeviceID, err)
			}
			metadata = string(encoded)
		}

		if _, err := stmt.ExecContext(ctx, rec.DeviceID, rec.DeviceName, string(rec.Status),
			lat, lon, speed, course, statusText, positionTime, rec.LastUpdate, metadata); err != nil {
			return fmt.Errorf("upsert vehicle %s: %w", rec.DeviceID, err)
		}
	}

	return tx.Commit()
}

// UpsertPosition updates only the position columns for one vehicle. Rows for
// unknown devices are ignored; the next full sync will create them.
func (s *VehicleStore) UpsertPosition(ctx context.Context, deviceID string, pos *models.Position, lastUpdate time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE vehicles SET
		    latitude = ?, longitude = ?, speed = ?, course = ?,
		    status_text = ?, position_time = ?, last_update = ?
		WHERE device_id = ?`,
		pos.Latitude, pos.Longitude, pos.Speed, pos.Course,
		pos.StatusText, pos.UpdateTime, lastUpdate, deviceID)
	metrics.RecordDBQuery("update", "vehicles", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update position for %s: %w", deviceID, err)
	}
	return nil
}

// DeleteMissing removes vehicles that the platform no longer reports.
func (s *VehicleStore) DeleteMissing(ctx context.Context, keepDeviceIDs []string) error {
	if len(keepDeviceIDs) == 0 {
		start := time.Now()
		_, err := s.db.ExecContext(ctx, `DELETE FROM vehicles`)
		metrics.RecordDBQuery("delete", "vehicles", time.Since(start), err)
		return err
	}

	// DuckDB has no array bind; build a temp list via a values join.
	placeholders := ""
	args := make([]any, 0, len(keepDeviceIDs))
	for i, id := range keepDeviceIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM vehicles WHERE device_id NOT IN (%s)`, placeholders), args...)
	metrics.RecordDBQuery("delete", "vehicles", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete missing vehicles: %w", err)
	}
	return nil
}

// Record converts a persisted row back into the cache model.
func (r *VehicleRow) Record() *models.VehicleRecord {
	rec := &models.VehicleRecord{
		DeviceID:   r.DeviceID,
		DeviceName: r.DeviceName,
		Status:     models.VehicleStatus(r.Status),
		LastUpdate: r.LastUpdate,
	}

	if r.Latitude.Valid && r.Longitude.Valid {
		pos := &models.Position{
			Latitude:  r.Latitude.Float64,
			Longitude: r.Longitude.Float64,
		}
		if r.Speed.Valid {
			pos.Speed = r.Speed.Float64
		}
		if r.Course.Valid {
			pos.Course = r.Course.Float64
		}
		if r.StatusText.Valid {
			pos.StatusText = r.StatusText.String
		}
		if r.PositionTime.Valid {
			pos.UpdateTime = r.PositionTime.Time
		}
		rec.LastPosition = pos
	}

	if r.Metadata.Valid && r.Metadata.String != "" {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(r.Metadata.String), &meta); err == nil {
			rec.Metadata = meta
		}
	}

	return rec
}
