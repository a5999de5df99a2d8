// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
monitor.go - Composite Connection Health Monitor

Samples three independent probes (session validity, platform reachability,
data flow) on a timer and composes them into a single operator-facing
healthy/degraded/critical signal. The previous status is retained until a
new check replaces it; checks never retry, only observe.
*/

package health

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/fleetsight/internal/gateway"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
)

// SessionChecker is the slice of the session manager the monitor needs.
type SessionChecker interface {
	IsSessionValid(ctx context.Context) bool
	GetCurrentSession() *models.Session
	ValidateAndEnsureSession(ctx context.Context) (*models.Session, error)
	ClearCurrent()
}

// Config holds health monitor timing parameters.
type Config struct {
	// Interval between automatic checks.
	Interval time.Duration

	// InitialDelay before the first automatic check after Start.
	InitialDelay time.Duration
}

// ReconnectionResult is the outcome of an operator-triggered reconnection.
type ReconnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Monitor runs periodic composite health checks.
type Monitor struct {
	client   gateway.PlatformAPI
	sessions SessionChecker
	config   Config

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	statusMu sync.RWMutex
	current  models.HealthStatus

	subMu  sync.RWMutex
	subs   map[int]func(models.HealthStatus)
	nextID int
}

// NewMonitor creates a health monitor. The initial status is critical with
// all probes false until the first check runs.
func NewMonitor(client gateway.PlatformAPI, sessions SessionChecker, cfg Config) *Monitor {
	return &Monitor{
		client:   client,
		sessions: sessions,
		config:   cfg,
		current: models.HealthStatus{
			Status:       models.HealthCritical,
			ErrorMessage: "no health check performed yet",
		},
		subs: make(map[int]func(models.HealthStatus)),
	}
}

// Start begins the periodic check loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	logging.Info().
		Dur("interval", m.config.Interval).
		Dur("initial_delay", m.config.InitialDelay).
		Msg("Starting health monitor")

	m.wg.Add(1)
	go m.checkLoop(ctx)

	return nil
}

// Stop stops the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info().Msg("Health monitor stopped")
}

func (m *Monitor) checkLoop(ctx context.Context) {
	defer m.wg.Done()

	initial := time.NewTimer(m.config.InitialDelay)
	defer initial.Stop()

	select {
	case <-ctx.Done():
		return
	case <-m.stopChan:
		return
	case <-initial.C:
		m.PerformHealthCheck(ctx)
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.PerformHealthCheck(ctx)
		}
	}
}

// GetStatus returns the most recent health status.
func (m *Monitor) GetStatus() models.HealthStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.current
}

// PerformHealthCheck runs the three probes, composes the result, stores it,
// and publishes it to subscribers. The new status is always published, even
// when every probe fails; operators see failures rather than silence.
func (m *Monitor) PerformHealthCheck(ctx context.Context) models.HealthStatus {
	sessionValid := m.sessions.IsSessionValid(ctx)

	var apiReachable, dataFlowing bool
	var errorMessage string

	if err := m.client.Ping(ctx); err != nil {
		errorMessage = "platform unreachable: " + err.Error()
	} else {
		apiReachable = true
	}

	// A minimal real fetch, only worth attempting when the platform answers.
	if apiReachable {
		if err := m.probeDataFlow(ctx); err != nil {
			errorMessage = "data fetch failed: " + err.Error()
		} else {
			dataFlowing = true
		}
	}

	status := models.HealthStatus{
		Status:       models.ComposeHealthState(sessionValid, apiReachable, dataFlowing),
		LastCheck:    time.Now(),
		SessionValid: sessionValid,
		APIReachable: apiReachable,
		DataFlowing:  dataFlowing,
		ErrorMessage: errorMessage,
	}
	if status.Status != models.HealthHealthy && status.ErrorMessage == "" && !sessionValid {
		status.ErrorMessage = "no valid platform session"
	}

	m.statusMu.Lock()
	m.current = status
	m.statusMu.Unlock()

	metrics.SetHealthStatus(string(status.Status))
	logging.Debug().
		Str("status", string(status.Status)).
		Bool("session_valid", sessionValid).
		Bool("api_reachable", apiReachable).
		Bool("data_flowing", dataFlowing).
		Msg("Health check complete")

	m.notify(status)
	return status
}

// probeDataFlow issues the cheapest real data request the platform offers.
func (m *Monitor) probeDataFlow(ctx context.Context) error {
	var token string
	if s := m.sessions.GetCurrentSession(); s != nil {
		token = s.Token
	}
	_, err := m.client.QueryVehicleList(ctx, token)
	return err
}

// AttemptReconnection is the operator-facing retry: it drops the in-memory
// session (persisted rows survive), forces a session refresh, and re-checks
// health. Success requires the resulting status to be fully healthy.
func (m *Monitor) AttemptReconnection(ctx context.Context) ReconnectionResult {
	logging.Info().Msg("Manual reconnection attempt started")

	m.sessions.ClearCurrent()

	if _, err := m.sessions.ValidateAndEnsureSession(ctx); err != nil {
		metrics.ReconnectionAttempts.WithLabelValues("failure").Inc()
		return ReconnectionResult{
			Success: false,
			Message: "session re-establishment failed: " + err.Error(),
		}
	}

	status := m.PerformHealthCheck(ctx)
	if status.Status != models.HealthHealthy {
		metrics.ReconnectionAttempts.WithLabelValues("failure").Inc()
		msg := "reconnected but status is " + string(status.Status)
		if status.ErrorMessage != "" {
			msg += ": " + status.ErrorMessage
		}
		return ReconnectionResult{Success: false, Message: msg}
	}

	metrics.ReconnectionAttempts.WithLabelValues("success").Inc()
	return ReconnectionResult{Success: true, Message: "connection restored"}
}

// SubscribeToHealth registers a callback invoked on every completed health
// check. The current status is delivered immediately. The returned function
// unsubscribes.
func (m *Monitor) SubscribeToHealth(fn func(models.HealthStatus)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	safeNotify(fn, m.GetStatus())

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Monitor) notify(status models.HealthStatus) {
	m.subMu.RLock()
	subs := make([]func(models.HealthStatus), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		safeNotify(fn, status)
	}
}

func safeNotify(fn func(models.HealthStatus), status models.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("Health subscriber panicked")
		}
	}()
	fn(status)
}
