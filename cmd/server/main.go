// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

// Package main is the entry point for the Fleetsight server.
//
// Fleetsight is the connectivity core of a fleet-management console. It
// maintains an authenticated session against an external vehicle tracking
// platform, mirrors the fleet into an in-memory cache backed by DuckDB, and
// serves the result over a REST and WebSocket API.
//
// # Application Architecture
//
// Components start in the following order:
//
//  1. Configuration: layered loading from environment variables, config
//     file, and defaults (Koanf v2)
//  2. Stores: Badger session store and DuckDB vehicle store
//  3. Platform gateway: HTTP client wrapped in a circuit breaker
//  4. Session manager: single authoritative platform session
//  5. Health monitor: periodic session/API/data-flow probes
//  6. Vehicle service: full and position-only sync loops
//  7. WebSocket hub and optional NATS publisher
//  8. HTTP server: REST API with Prometheus metrics
//
// Everything after the stores runs under a suture supervisor tree, so a
// crashing sync loop restarts with backoff while the API keeps serving the
// last cached snapshot.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP listener drains,
// the sync loops finish their current tick, and both stores close.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/fleetsight/internal/api"
	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/events"
	"github.com/tomtom215/fleetsight/internal/gateway"
	"github.com/tomtom215/fleetsight/internal/health"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/models"
	"github.com/tomtom215/fleetsight/internal/session"
	"github.com/tomtom215/fleetsight/internal/store"
	"github.com/tomtom215/fleetsight/internal/supervisor"
	syncsvc "github.com/tomtom215/fleetsight/internal/sync"
	ws "github.com/tomtom215/fleetsight/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("platform_url", cfg.Platform.URL).
		Str("db_path", cfg.Database.Path).
		Dur("full_interval", cfg.Sync.FullInterval).
		Dur("position_interval", cfg.Sync.PositionInterval).
		Msg("Starting Fleetsight")

	encryptor, err := store.NewTokenEncryptor(cfg.Session.EncryptionKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token encryption")
	}

	sessionStore, err := store.NewSessionStore(cfg.Session.StorePath, encryptor)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()

	vehicleStore, err := store.NewVehicleStore(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open vehicle store")
	}
	defer func() {
		if err := vehicleStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing vehicle store")
		}
	}()

	client := gateway.NewCircuitBreakerClient(&cfg.Platform)
	if err := client.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Tracking platform unreachable at startup (will retry)")
	}

	manager := session.NewManager(client, sessionStore, session.Config{
		LocalUserID:   cfg.Platform.Username,
		RefreshMargin: cfg.Session.RefreshMargin,
	})

	monitor := health.NewMonitor(client, manager, health.Config{
		Interval:     cfg.Health.Interval,
		InitialDelay: cfg.Health.InitialDelay,
	})

	vehicleService := syncsvc.NewVehicleService(client, manager, vehicleStore, cfg.Sync)

	hub := ws.NewHub()

	publisher, err := events.NewPublisher(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer publisher.Close()

	// Fan out state changes: session loss/recovery feeds the sync service,
	// health and fleet changes stream to consoles and NATS.
	manager.Subscribe(vehicleService.HandleSessionChange)
	monitor.SubscribeToHealth(func(status models.HealthStatus) {
		vehicleService.HandleHealthChange(status)
		hub.BroadcastJSON(ws.MessageTypeHealthChange, status)
		publisher.PublishHealthChange(status)
	})
	vehicleService.Subscribe(func(vehicles []*models.VehicleRecord) {
		hub.BroadcastJSON(ws.MessageTypeFleetUpdate, vehicles)
		hub.BroadcastJSON(ws.MessageTypeMetrics, vehicleService.GetMetrics())
		publisher.PublishFleetUpdate(vehicles)
	})

	handler := api.NewHandler(vehicleService, monitor, hub)
	server := api.NewServer(api.NewRouter(handler, cfg.Server), cfg.Server)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(supervisor.NewLifecycleService("health-monitor", monitor))
	tree.AddSyncService(supervisor.NewLifecycleService("vehicle-sync", vehicleService))
	tree.AddMessagingService(supervisor.NewRunFunc("websocket-hub", hub.RunWithContext))
	tree.AddAPIService(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Fleetsight stopped gracefully")
}
