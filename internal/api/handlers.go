// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
handlers.go - Console HTTP Handlers

Read endpoints serve straight out of the in-memory vehicle cache; nothing
here ever talks to the tracking platform directly. The two POST endpoints
(sync, reconnect) are the operator's manual override for the background
loops.
*/

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"

	"github.com/tomtom215/fleetsight/internal/health"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/models"
	"github.com/tomtom215/fleetsight/internal/websocket"
)

// FleetReader is the slice of the vehicle service the handlers need.
type FleetReader interface {
	GetVehicles() []*models.VehicleRecord
	GetVehicleByID(deviceID string) (*models.VehicleRecord, bool)
	GetMetrics() models.VehicleMetrics
	ForceSync(ctx context.Context) error
	IsReady() bool
}

// HealthReader is the slice of the health monitor the handlers need.
type HealthReader interface {
	GetStatus() models.HealthStatus
	AttemptReconnection(ctx context.Context) health.ReconnectionResult
}

// Handler serves the console REST API.
type Handler struct {
	fleet    FleetReader
	health   HealthReader
	hub      *websocket.Hub
	upgrader ws.Upgrader
}

// NewHandler wires the handlers to their backing services. hub may be nil
// when WebSocket streaming is not wanted (tests).
func NewHandler(fleet FleetReader, healthMon HealthReader, hub *websocket.Hub) *Handler {
	return &Handler{
		fleet:  fleet,
		health: healthMon,
		hub:    hub,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS policy is enforced by the router middleware; the
			// browser sends the Origin header on the upgrade request too.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Vehicles returns the full cached fleet snapshot.
func (h *Handler) Vehicles(w http.ResponseWriter, r *http.Request) {
	vehicles := h.fleet.GetVehicles()
	if vehicles == nil {
		vehicles = []*models.VehicleRecord{}
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// Vehicle returns one vehicle by device ID.
func (h *Handler) Vehicle(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	record, ok := h.fleet.GetVehicleByID(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// FleetMetrics returns the aggregate counters derived from the cache.
func (h *Handler) FleetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fleet.GetMetrics())
}

// Health returns the composite platform connection health. Critical maps to
// 503 so load balancers and uptime probes see it without parsing the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.health.GetStatus()
	code := http.StatusOK
	if status.Status == models.HealthCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// HealthLive is the liveness probe: the process is up and serving.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe: the vehicle cache has completed its
// initial hydration and reads are meaningful.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !h.fleet.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ForceSync triggers an immediate full synchronization cycle.
func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if err := h.fleet.ForceSync(r.Context()); err != nil {
		logging.Warn().Err(err).Msg("Manual sync failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.fleet.GetMetrics())
}

// Reconnect tears down the current platform session and establishes a new
// one. The result reports whether the rebuilt connection is healthy.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	result := h.health.AttemptReconnection(r.Context())
	code := http.StatusOK
	if !result.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, result)
}

// WebSocket upgrades the connection and attaches it to the broadcast hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotImplemented, "websocket streaming is not enabled")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
