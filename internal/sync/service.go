// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
service.go - Vehicle Data Cache & Sync Service

Owns the in-memory fleet cache. On startup the cache hydrates from the
local store so consumers have data immediately, independent of platform
availability. Two independent timer loops then keep it fresh:

  - full sync (60s): fetch the complete vehicle list plus positions and
    replace the cache wholesale
  - position-only sync (30s): fetch positions for recently-active vehicles
    and patch matching entries in place, persisting each delta

Each loop carries its own re-entrancy guard so a slow tick never overlaps
its own next tick. Tick failures are swallowed and logged; the last good
cache is always preserved.
*/

package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/gateway"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
	"github.com/tomtom215/fleetsight/internal/session"
	"github.com/tomtom215/fleetsight/internal/store"
)

// SessionProvider is the slice of the session manager the sync loops need.
type SessionProvider interface {
	ValidateAndEnsureSession(ctx context.Context) (*models.Session, error)
	GetCurrentSession() *models.Session
}

// VehicleStorer persists fleet snapshots for restart hydration.
type VehicleStorer interface {
	ReadAllVehicles(ctx context.Context) ([]store.VehicleRow, error)
	UpsertVehicles(ctx context.Context, records []*models.VehicleRecord) error
	UpsertPosition(ctx context.Context, deviceID string, pos *models.Position, lastUpdate time.Time) error
	DeleteMissing(ctx context.Context, keepDeviceIDs []string) error
}

// VehicleService is the process-wide fleet cache and sync driver.
type VehicleService struct {
	client   gateway.PlatformAPI
	sessions SessionProvider
	store    VehicleStorer
	config   config.SyncConfig

	mu        sync.RWMutex
	cache     map[string]*models.VehicleRecord
	fleetInfo models.VehicleMetrics

	ready            atomic.Bool
	fullRunning      atomic.Bool
	positionRunning  atomic.Bool
	sessionAvailable atomic.Bool

	lifecycleMu sync.Mutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup

	subMu  sync.RWMutex
	subs   map[int]func([]*models.VehicleRecord)
	nextID int
}

// NewVehicleService creates the sync service. Call Start to hydrate the
// cache and begin the sync loops.
func NewVehicleService(client gateway.PlatformAPI, sessions SessionProvider, vehicleStore VehicleStorer, cfg config.SyncConfig) *VehicleService {
	return &VehicleService{
		client:   client,
		sessions: sessions,
		store:    vehicleStore,
		config:   cfg,
		cache:    make(map[string]*models.VehicleRecord),
		subs:     make(map[int]func([]*models.VehicleRecord)),
	}
}

// Start hydrates the cache from the store, then launches the two sync
// loops. Hydration failure is not fatal; the loops still run and the first
// successful full sync populates the cache.
func (s *VehicleService) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.running {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.lifecycleMu.Unlock()

	s.hydrate(ctx)

	logging.Info().
		Dur("full_interval", s.config.FullInterval).
		Dur("position_interval", s.config.PositionInterval).
		Msg("Starting vehicle sync loops")

	s.wg.Add(2)
	go s.fullSyncLoop(ctx)
	go s.positionSyncLoop(ctx)

	return nil
}

// Stop stops both sync loops and waits for in-flight ticks to finish.
func (s *VehicleService) Stop() {
	s.lifecycleMu.Lock()
	if !s.running {
		s.lifecycleMu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.lifecycleMu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("Vehicle sync loops stopped")
}

// IsReady reports whether initial hydration has completed.
func (s *VehicleService) IsReady() bool {
	return s.ready.Load()
}

// hydrate loads the persisted snapshot into the cache. Store rows classify
// as unknown until a live sync attests otherwise.
func (s *VehicleService) hydrate(ctx context.Context) {
	rows, err := s.store.ReadAllVehicles(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Cache hydration from store failed")
		s.mu.Lock()
		s.fleetInfo = models.VehicleMetrics{
			SyncStatus:   models.SyncError,
			ErrorMessage: "store hydration failed: " + err.Error(),
		}
		s.mu.Unlock()
		s.ready.Store(true)
		return
	}

	records := TransformStoreRows(rows)
	s.replaceCache(records, time.Time{}, models.SyncSuccess, "")
	s.ready.Store(true)

	logging.Info().Int("vehicles", len(records)).Msg("Cache hydrated from store")
}

func (s *VehicleService) fullSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	// Populate from the platform right away rather than waiting a full
	// interval after boot.
	s.tickFullSync(ctx)

	ticker := time.NewTicker(s.config.FullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tickFullSync(ctx)
		}
	}
}

func (s *VehicleService) positionSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PositionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tickPositionSync(ctx)
		}
	}
}

// tickFullSync swallows errors at the tick boundary; the cache keeps its
// last good contents and the next tick retries naturally.
func (s *VehicleService) tickFullSync(ctx context.Context) {
	if err := s.runFullSync(ctx); err != nil {
		logging.Warn().Err(err).Msg("Full sync tick failed, keeping cached data")
	}
}

func (s *VehicleService) tickPositionSync(ctx context.Context) {
	if err := s.runPositionSync(ctx); err != nil {
		logging.Warn().Err(err).Msg("Position sync tick failed, keeping cached data")
	}
}

// runFullSync fetches the complete fleet and replaces the cache wholesale.
// Without a configured session it degrades to database-only mode: the
// cache is left untouched and no error is surfaced.
func (s *VehicleService) runFullSync(ctx context.Context) error {
	if !s.fullRunning.CompareAndSwap(false, true) {
		metrics.SyncSkippedOverlap.WithLabelValues("full").Inc()
		logging.Debug().Msg("Full sync still in progress, skipping tick")
		return nil
	}
	defer s.fullRunning.Store(false)

	start := time.Now()

	sess, err := s.sessions.ValidateAndEnsureSession(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSessionConfigured) {
			logging.Debug().Msg("No platform session configured, running in database-only mode")
			return nil
		}
		metrics.RecordSyncOperation("full", time.Since(start), 0, err)
		return err
	}

	rawVehicles, err := s.client.QueryVehicleList(ctx, sess.Token)
	if err != nil {
		metrics.RecordSyncOperation("full", time.Since(start), 0, err)
		return err
	}

	deviceIDs := make([]string, 0, len(rawVehicles))
	for i := range rawVehicles {
		if rawVehicles[i].DeviceID != "" {
			deviceIDs = append(deviceIDs, rawVehicles[i].DeviceID)
		}
	}

	positions := map[string]models.RawPosition{}
	if len(deviceIDs) > 0 {
		rawPositions, err := s.client.QueryLastPositions(ctx, sess.Token, deviceIDs)
		if err != nil {
			metrics.RecordSyncOperation("full", time.Since(start), 0, err)
			return err
		}
		for i := range rawPositions {
			positions[rawPositions[i].DeviceID] = rawPositions[i]
		}
	}

	now := time.Now()
	records := ProcessVehicleData(rawVehicles, positions, now)
	s.replaceCache(records, now, models.SyncSuccess, "")

	s.persistSnapshot(ctx, records, deviceIDs)

	metrics.RecordSyncOperation("full", time.Since(start), len(records), nil)
	logging.Debug().Int("vehicles", len(records)).Msg("Full sync complete")
	return nil
}

// persistSnapshot writes the authoritative fleet snapshot. Persistence
// failures only cost hydration fidelity after a restart, so they are
// logged and do not fail the sync.
func (s *VehicleService) persistSnapshot(ctx context.Context, records []*models.VehicleRecord, deviceIDs []string) {
	if err := s.store.UpsertVehicles(ctx, records); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist fleet snapshot")
		return
	}
	if err := s.store.DeleteMissing(ctx, deviceIDs); err != nil {
		logging.Warn().Err(err).Msg("Failed to prune departed vehicles from store")
	}
}

// runPositionSync patches positions for vehicles active inside the active
// window. Entries the platform does not return are left untouched.
func (s *VehicleService) runPositionSync(ctx context.Context) error {
	if !s.positionRunning.CompareAndSwap(false, true) {
		metrics.SyncSkippedOverlap.WithLabelValues("position").Inc()
		logging.Debug().Msg("Position sync still in progress, skipping tick")
		return nil
	}
	defer s.positionRunning.Store(false)

	start := time.Now()

	activeIDs := s.activeDeviceIDs(start)
	if len(activeIDs) == 0 {
		return nil
	}

	sess, err := s.sessions.ValidateAndEnsureSession(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSessionConfigured) {
			return nil
		}
		metrics.RecordSyncOperation("position", time.Since(start), 0, err)
		return err
	}

	rawPositions, err := s.client.QueryLastPositions(ctx, sess.Token, activeIDs)
	if err != nil {
		metrics.RecordSyncOperation("position", time.Since(start), 0, err)
		return err
	}

	patched := s.patchPositions(ctx, rawPositions)

	metrics.RecordSyncOperation("position", time.Since(start), patched, nil)
	if patched > 0 {
		logging.Debug().Int("patched", patched).Msg("Position sync complete")
	}
	return nil
}

// activeDeviceIDs returns ids of cache entries updated within the active
// window, bounding position-only call volume.
func (s *VehicleService) activeDeviceIDs(now time.Time) []string {
	cutoff := now.Add(-s.config.ActiveWindow)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.cache))
	for id, rec := range s.cache {
		if rec.LastUpdate.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// patchPositions applies returned positions to matching cache entries in
// place and persists each delta. Non-position fields are untouched.
func (s *VehicleService) patchPositions(ctx context.Context, rawPositions []models.RawPosition) int {
	now := time.Now()
	patched := 0

	s.mu.Lock()
	for i := range rawPositions {
		rawPos := &rawPositions[i]
		rec, ok := s.cache[rawPos.DeviceID]
		if !ok {
			continue
		}
		if err := validate.Struct(rawPos); err != nil {
			metrics.SyncRecordsSkipped.Inc()
			logging.Warn().Err(err).Str("device_id", rawPos.DeviceID).Msg("Skipping malformed position record")
			continue
		}

		rec.LastPosition = rawPos.Position()
		if ts := rawPos.Timestamp(); !ts.IsZero() {
			rec.LastUpdate = ts
		} else {
			rec.LastUpdate = now
		}
		rec.Status = ClassifyStatus(rec.LastPosition, rec.LastUpdate, now)
		patched++

		if err := s.store.UpsertPosition(ctx, rec.DeviceID, rec.LastPosition, rec.LastUpdate); err != nil {
			logging.Warn().Err(err).Str("device_id", rec.DeviceID).Msg("Failed to persist position delta")
		}
	}

	if patched > 0 {
		s.fleetInfo = CalculateMetrics(s.cacheSliceLocked(), now, s.fleetInfo.SyncStatus, s.fleetInfo.ErrorMessage, now)
		s.fleetInfo.LastSyncTime = now
	}
	s.mu.Unlock()

	if patched > 0 {
		s.notify()
	}
	return patched
}

// ForceSync runs one full sync pass synchronously and propagates its
// outcome, including failures. Unlike timer ticks, a failed forced sync
// that leaves the cache empty marks syncStatus as error.
func (s *VehicleService) ForceSync(ctx context.Context) error {
	err := s.runFullSync(ctx)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	if len(s.cache) == 0 {
		s.fleetInfo.SyncStatus = models.SyncError
		s.fleetInfo.ErrorMessage = err.Error()
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// HandleSessionChange reacts to session manager events: on session loss
// every cached vehicle is downgraded to offline for display (positions are
// retained); on session recovery a forced sync repopulates live statuses.
func (s *VehicleService) HandleSessionChange(sess *models.Session) {
	if sess == nil {
		if s.sessionAvailable.Swap(false) {
			logging.Info().Msg("Platform session lost, downgrading fleet to offline")
			s.downgradeToOffline()
		}
		return
	}

	if !s.sessionAvailable.Swap(true) {
		logging.Info().Msg("Platform session available, forcing full sync")
		go func() {
			if err := s.ForceSync(context.Background()); err != nil {
				logging.Warn().Err(err).Msg("Recovery sync failed")
			}
		}()
	}
}

// HandleHealthChange mirrors HandleSessionChange for the health signal:
// critical health downgrades the fleet display, recovery forces a sync.
func (s *VehicleService) HandleHealthChange(status models.HealthStatus) {
	switch status.Status {
	case models.HealthCritical:
		s.downgradeToOffline()
	case models.HealthHealthy:
		if s.sessionAvailable.Load() {
			return // already live; periodic loops keep it fresh
		}
		go func() {
			if err := s.ForceSync(context.Background()); err != nil {
				logging.Warn().Err(err).Msg("Recovery sync failed")
			}
		}()
	}
}

// downgradeToOffline rewrites every cached status to offline without
// touching positions, then notifies subscribers.
func (s *VehicleService) downgradeToOffline() {
	now := time.Now()

	s.mu.Lock()
	changed := false
	for _, rec := range s.cache {
		if rec.Status != models.VehicleOffline {
			rec.Status = models.VehicleOffline
			changed = true
		}
	}
	if changed {
		s.fleetInfo = CalculateMetrics(s.cacheSliceLocked(), s.fleetInfo.LastSyncTime, s.fleetInfo.SyncStatus, s.fleetInfo.ErrorMessage, now)
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// replaceCache swaps the cache wholesale. Subscribers only ever observe a
// before or after state, never a partially applied one.
func (s *VehicleService) replaceCache(records []*models.VehicleRecord, lastSync time.Time, status models.SyncStatus, errorMessage string) {
	next := make(map[string]*models.VehicleRecord, len(records))
	for _, rec := range records {
		next[rec.DeviceID] = rec
	}

	now := time.Now()

	s.mu.Lock()
	s.cache = next
	s.fleetInfo = CalculateMetrics(records, lastSync, status, errorMessage, now)
	s.mu.Unlock()

	metrics.CachedVehicles.Set(float64(len(records)))
	s.notify()
}

// GetVehicles returns a defensive copy of every cached vehicle.
func (s *VehicleService) GetVehicles() []*models.VehicleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheSliceCopyLocked()
}

// GetVehicleByID returns a copy of one cached vehicle, or false.
func (s *VehicleService) GetVehicleByID(deviceID string) (*models.VehicleRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.cache[deviceID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// GetMetrics returns the current fleet metrics snapshot.
func (s *VehicleService) GetMetrics() models.VehicleMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fleetInfo
}

// Subscribe registers a callback invoked with a cache snapshot after every
// cache change. The current snapshot is delivered immediately. The
// returned function unsubscribes.
func (s *VehicleService) Subscribe(fn func([]*models.VehicleRecord)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	safeNotifyVehicles(fn, s.GetVehicles())

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *VehicleService) notify() {
	s.subMu.RLock()
	subs := make([]func([]*models.VehicleRecord), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	if len(subs) == 0 {
		return
	}

	snapshot := s.GetVehicles()
	for _, fn := range subs {
		safeNotifyVehicles(fn, snapshot)
	}
}

func safeNotifyVehicles(fn func([]*models.VehicleRecord), vehicles []*models.VehicleRecord) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("Vehicle subscriber panicked")
		}
	}()
	fn(vehicles)
}

// cacheSliceLocked returns the live records. Caller holds s.mu.
func (s *VehicleService) cacheSliceLocked() []*models.VehicleRecord {
	out := make([]*models.VehicleRecord, 0, len(s.cache))
	for _, rec := range s.cache {
		out = append(out, rec)
	}
	return out
}

// cacheSliceCopyLocked returns cloned records. Caller holds s.mu (read).
func (s *VehicleService) cacheSliceCopyLocked() []*models.VehicleRecord {
	out := make([]*models.VehicleRecord, 0, len(s.cache))
	for _, rec := range s.cache {
		out = append(out, rec.Clone())
	}
	return out
}
