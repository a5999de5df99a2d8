// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/fleetsight/internal/models"
)

type fakePlatform struct {
	pingErr  error
	fetchErr error

	pingCalls  atomic.Int64
	fetchCalls atomic.Int64
}

func (f *fakePlatform) Ping(context.Context) error {
	f.pingCalls.Add(1)
	return f.pingErr
}

func (f *fakePlatform) QueryVehicleList(context.Context, string) ([]models.RawVehicle, error) {
	f.fetchCalls.Add(1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []models.RawVehicle{{DeviceID: "dev-1"}}, nil
}

func (f *fakePlatform) Login(context.Context) (*models.Session, error) { return nil, nil }
func (f *fakePlatform) ValidateToken(context.Context, string) (bool, error) {
	return true, nil
}
func (f *fakePlatform) RefreshToken(context.Context, string) (*models.Session, error) {
	return nil, nil
}
func (f *fakePlatform) QueryLastPositions(context.Context, string, []string) ([]models.RawPosition, error) {
	return nil, nil
}

type fakeSessions struct {
	valid      bool
	ensureErr  error
	ensured    atomic.Int64
	cleared    atomic.Int64
	ensureFunc func()
}

func (f *fakeSessions) IsSessionValid(context.Context) bool { return f.valid }

func (f *fakeSessions) GetCurrentSession() *models.Session {
	if !f.valid {
		return nil
	}
	return &models.Session{Token: "tok", Username: "fleet-admin", ExpiresAt: time.Now().Add(time.Hour)}
}

func (f *fakeSessions) ValidateAndEnsureSession(context.Context) (*models.Session, error) {
	f.ensured.Add(1)
	if f.ensureFunc != nil {
		f.ensureFunc()
	}
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return f.GetCurrentSession(), nil
}

func (f *fakeSessions) ClearCurrent() { f.cleared.Add(1) }

func newTestMonitor(platform *fakePlatform, sessions *fakeSessions) *Monitor {
	return NewMonitor(platform, sessions, Config{
		Interval:     time.Hour, // tests drive checks directly
		InitialDelay: time.Hour,
	})
}

func TestPerformHealthCheckHealthy(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&fakePlatform{}, &fakeSessions{valid: true})
	status := m.PerformHealthCheck(context.Background())

	if status.Status != models.HealthHealthy {
		t.Errorf("status = %s, want healthy", status.Status)
	}
	if !status.SessionValid || !status.APIReachable || !status.DataFlowing {
		t.Errorf("probes = %+v, want all true", status)
	}
	if status.ErrorMessage != "" {
		t.Errorf("unexpected error message %q", status.ErrorMessage)
	}
	if status.LastCheck.IsZero() {
		t.Error("LastCheck not set")
	}
}

func TestPerformHealthCheckDegradedWhenDataFetchFails(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{fetchErr: errors.New("empty response")}
	m := newTestMonitor(platform, &fakeSessions{valid: true})
	status := m.PerformHealthCheck(context.Background())

	if status.Status != models.HealthDegraded {
		t.Errorf("status = %s, want degraded", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Error("degraded status should carry an error message")
	}
}

func TestPerformHealthCheckCriticalWhenSessionInvalid(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&fakePlatform{}, &fakeSessions{valid: false})
	status := m.PerformHealthCheck(context.Background())

	if status.Status != models.HealthCritical {
		t.Errorf("status = %s, want critical", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Error("critical status should carry an error message")
	}
}

func TestPerformHealthCheckSkipsDataProbeWhenUnreachable(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pingErr: errors.New("connection refused")}
	m := newTestMonitor(platform, &fakeSessions{valid: true})
	status := m.PerformHealthCheck(context.Background())

	if status.Status != models.HealthCritical {
		t.Errorf("status = %s, want critical", status.Status)
	}
	if platform.fetchCalls.Load() != 0 {
		t.Errorf("data probe ran %d times despite unreachable platform", platform.fetchCalls.Load())
	}
}

func TestGetStatusRetainsPreviousValue(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{}
	m := newTestMonitor(platform, &fakeSessions{valid: true})

	initial := m.GetStatus()
	if initial.Status != models.HealthCritical {
		t.Errorf("pre-check status = %s, want critical", initial.Status)
	}

	m.PerformHealthCheck(context.Background())
	if got := m.GetStatus(); got.Status != models.HealthHealthy {
		t.Errorf("post-check status = %s, want healthy", got.Status)
	}
}

func TestAttemptReconnectionSuccess(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{valid: true}
	m := newTestMonitor(&fakePlatform{}, sessions)

	result := m.AttemptReconnection(context.Background())
	if !result.Success {
		t.Fatalf("AttemptReconnection() = %+v, want success", result)
	}
	if sessions.cleared.Load() != 1 {
		t.Errorf("ClearCurrent calls = %d, want 1", sessions.cleared.Load())
	}
	if sessions.ensured.Load() != 1 {
		t.Errorf("ValidateAndEnsureSession calls = %d, want 1", sessions.ensured.Load())
	}
}

func TestAttemptReconnectionSessionFailure(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{valid: false, ensureErr: errors.New("credentials rejected")}
	m := newTestMonitor(&fakePlatform{}, sessions)

	result := m.AttemptReconnection(context.Background())
	if result.Success {
		t.Fatal("AttemptReconnection() succeeded with failing session refresh")
	}
	if result.Message == "" {
		t.Error("failure result should carry a message")
	}
}

func TestAttemptReconnectionUnhealthyAfterRefresh(t *testing.T) {
	t.Parallel()

	// Session re-establishes but the platform still refuses data requests.
	sessions := &fakeSessions{valid: true}
	platform := &fakePlatform{fetchErr: errors.New("device list unavailable")}
	m := newTestMonitor(platform, sessions)

	result := m.AttemptReconnection(context.Background())
	if result.Success {
		t.Fatal("AttemptReconnection() succeeded with degraded status")
	}
}

func TestSubscribeToHealthImmediateAndUpdates(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&fakePlatform{}, &fakeSessions{valid: true})

	var mu sync.Mutex
	var seen []models.HealthState
	unsubscribe := m.SubscribeToHealth(func(s models.HealthStatus) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})

	mu.Lock()
	if len(seen) != 1 || seen[0] != models.HealthCritical {
		t.Errorf("initial delivery = %v, want [critical]", seen)
	}
	mu.Unlock()

	m.PerformHealthCheck(context.Background())

	mu.Lock()
	if len(seen) != 2 || seen[1] != models.HealthHealthy {
		t.Errorf("deliveries = %v, want [critical healthy]", seen)
	}
	mu.Unlock()

	unsubscribe()
	m.PerformHealthCheck(context.Background())

	mu.Lock()
	if len(seen) != 2 {
		t.Errorf("deliveries after unsubscribe = %d, want 2", len(seen))
	}
	mu.Unlock()
}

func TestHealthSubscriberPanicIsolated(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&fakePlatform{}, &fakeSessions{valid: true})

	m.SubscribeToHealth(func(models.HealthStatus) { panic("bad subscriber") })

	var delivered atomic.Bool
	m.SubscribeToHealth(func(s models.HealthStatus) {
		if s.Status == models.HealthHealthy {
			delivered.Store(true)
		}
	})

	m.PerformHealthCheck(context.Background())
	if !delivered.Load() {
		t.Error("second subscriber not notified after first panicked")
	}
}

func TestMonitorStartStop(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{}
	m := NewMonitor(platform, &fakeSessions{valid: true}, Config{
		Interval:     10 * time.Millisecond,
		InitialDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Idempotent start.
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for platform.pingCalls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("timer loop never ran health checks")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Stop()
	m.Stop() // idempotent
}
