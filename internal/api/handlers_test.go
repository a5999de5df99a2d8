// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/health"
	"github.com/tomtom215/fleetsight/internal/models"
	"github.com/tomtom215/fleetsight/internal/websocket"

	"github.com/goccy/go-json"
)

type fakeFleet struct {
	vehicles []*models.VehicleRecord
	metrics  models.VehicleMetrics
	syncErr  error
	ready    bool

	syncCalls int
}

func (f *fakeFleet) GetVehicles() []*models.VehicleRecord { return f.vehicles }

func (f *fakeFleet) GetVehicleByID(deviceID string) (*models.VehicleRecord, bool) {
	for _, v := range f.vehicles {
		if v.DeviceID == deviceID {
			return v, true
		}
	}
	return nil, false
}

func (f *fakeFleet) GetMetrics() models.VehicleMetrics { return f.metrics }

func (f *fakeFleet) ForceSync(context.Context) error {
	f.syncCalls++
	return f.syncErr
}

func (f *fakeFleet) IsReady() bool { return f.ready }

type fakeHealth struct {
	status models.HealthStatus
	result health.ReconnectionResult
}

func (f *fakeHealth) GetStatus() models.HealthStatus { return f.status }

func (f *fakeHealth) AttemptReconnection(context.Context) health.ReconnectionResult {
	return f.result
}

func newTestServer(t *testing.T, fleet *fakeFleet, hm *fakeHealth, hub *websocket.Hub) *httptest.Server {
	t.Helper()

	handler := NewHandler(fleet, hm, hub)
	router := NewRouter(handler, config.ServerConfig{
		CORSOrigins: []string{"*"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestVehiclesEndpoint(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{
		vehicles: []*models.VehicleRecord{
			{DeviceID: "dev-1", DeviceName: "Van 1", Status: models.VehicleOnline},
			{DeviceID: "dev-2", DeviceName: "Van 2", Status: models.VehicleOffline},
		},
		ready: true,
	}
	srv := newTestServer(t, fleet, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/vehicles")
	if err != nil {
		t.Fatalf("GET /vehicles error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []models.VehicleRecord
	decodeBody(t, resp, &got)
	if len(got) != 2 {
		t.Fatalf("len(vehicles) = %d, want 2", len(got))
	}
	if got[0].DeviceID != "dev-1" || got[1].Status != models.VehicleOffline {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestVehiclesEndpointEmptyCacheReturnsArray(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeFleet{ready: true}, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/vehicles")
	if err != nil {
		t.Fatalf("GET /vehicles error: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 16)
	n, _ := resp.Body.Read(buf)
	body := strings.TrimSpace(string(buf[:n]))
	if body != "[]" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestVehicleByID(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{
		vehicles: []*models.VehicleRecord{
			{DeviceID: "dev-1", DeviceName: "Van 1", Status: models.VehicleOnline},
		},
	}
	srv := newTestServer(t, fleet, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/vehicles/dev-1")
	if err != nil {
		t.Fatalf("GET /vehicles/dev-1 error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got models.VehicleRecord
	decodeBody(t, resp, &got)
	if got.DeviceName != "Van 1" {
		t.Errorf("device name = %q, want %q", got.DeviceName, "Van 1")
	}
}

func TestVehicleByIDNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeFleet{}, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/vehicles/ghost")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestFleetMetricsEndpoint(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{
		metrics: models.VehicleMetrics{
			TotalVehicles:  5,
			OnlineVehicles: 3,
			SyncStatus:     models.SyncSuccess,
			LastSyncTime:   time.Now(),
		},
	}
	srv := newTestServer(t, fleet, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/fleet/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	var got models.VehicleMetrics
	decodeBody(t, resp, &got)
	if got.TotalVehicles != 5 || got.OnlineVehicles != 3 {
		t.Errorf("metrics = %+v", got)
	}
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		state    models.HealthState
		wantCode int
	}{
		{"healthy", models.HealthHealthy, http.StatusOK},
		{"degraded", models.HealthDegraded, http.StatusOK},
		{"critical", models.HealthCritical, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			hm := &fakeHealth{status: models.HealthStatus{Status: tc.state, LastCheck: time.Now()}}
			srv := newTestServer(t, &fakeFleet{}, hm, nil)

			resp, err := http.Get(srv.URL + "/api/v1/health")
			if err != nil {
				t.Fatalf("GET error: %v", err)
			}
			if resp.StatusCode != tc.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantCode)
			}
			var got models.HealthStatus
			decodeBody(t, resp, &got)
			if got.Status != tc.state {
				t.Errorf("body status = %q, want %q", got.Status, tc.state)
			}
		})
	}
}

func TestReadinessProbe(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{}
	srv := newTestServer(t, fleet, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/health/ready")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before hydration = %d, want 503", resp.StatusCode)
	}

	fleet.ready = true
	resp, err = http.Get(srv.URL + "/api/v1/health/ready")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status after hydration = %d, want 200", resp.StatusCode)
	}
}

func TestLivenessProbe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeFleet{}, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestForceSyncEndpoint(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{metrics: models.VehicleMetrics{TotalVehicles: 2}}
	srv := newTestServer(t, fleet, &fakeHealth{}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got models.VehicleMetrics
	decodeBody(t, resp, &got)
	if got.TotalVehicles != 2 {
		t.Errorf("metrics = %+v", got)
	}
	if fleet.syncCalls != 1 {
		t.Errorf("sync calls = %d, want 1", fleet.syncCalls)
	}
}

func TestForceSyncEndpointFailure(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{syncErr: errors.New("platform unreachable")}
	srv := newTestServer(t, fleet, &fakeHealth{}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	var got errorResponse
	decodeBody(t, resp, &got)
	if got.Error == "" {
		t.Error("expected error message in body")
	}
}

func TestReconnectEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		result   health.ReconnectionResult
		wantCode int
	}{
		{"success", health.ReconnectionResult{Success: true, Message: "connection restored"}, http.StatusOK},
		{"failure", health.ReconnectionResult{Success: false, Message: "authentication failed"}, http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t, &fakeFleet{}, &fakeHealth{result: tc.result}, nil)

			resp, err := http.Post(srv.URL+"/api/v1/reconnect", "application/json", nil)
			if err != nil {
				t.Fatalf("POST error: %v", err)
			}
			if resp.StatusCode != tc.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantCode)
			}
			var got health.ReconnectionResult
			decodeBody(t, resp, &got)
			if got.Success != tc.result.Success || got.Message != tc.result.Message {
				t.Errorf("result = %+v, want %+v", got, tc.result)
			}
		})
	}
}

func TestWebSocketEndpoint(t *testing.T) {
	t.Parallel()

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	srv := newTestServer(t, &fakeFleet{}, &fakeHealth{}, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for hub.GetClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("client count = %d, want 1", hub.GetClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.BroadcastJSON(websocket.MessageTypeHealthChange, models.HealthStatus{Status: models.HealthHealthy})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if msg.Type != websocket.MessageTypeHealthChange {
		t.Errorf("message type = %q, want %q", msg.Type, websocket.MessageTypeHealthChange)
	}
}

func TestWebSocketDisabledWithoutHub(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeFleet{}, &fakeHealth{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/ws")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}
