// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

// Service wrappers adapting Fleetsight components to the suture.Service
// interface. Components that expose Start/Stop lifecycles get a generic
// wrapper; components that already block on a context are passed through.

package supervisor

import (
	"context"

	"github.com/tomtom215/fleetsight/internal/logging"
)

// Lifecycle is any component with an idempotent Start/Stop pair. Both the
// health monitor and the vehicle data service satisfy it.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// LifecycleService adapts a Lifecycle to suture.Service.
type LifecycleService struct {
	name      string
	component Lifecycle
}

// NewLifecycleService wraps a Start/Stop component for supervision. The name
// appears in supervisor logs.
func NewLifecycleService(name string, component Lifecycle) *LifecycleService {
	return &LifecycleService{name: name, component: component}
}

// Serve starts the component, blocks until the context is canceled, then
// stops it. A Start failure is returned so suture restarts the service with
// backoff.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		logging.Error().Err(err).Str("service", s.name).Msg("Service failed to start")
		return err
	}

	<-ctx.Done()
	s.component.Stop()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *LifecycleService) String() string {
	return s.name
}

// RunFunc adapts a context-blocking run function to suture.Service. Used for
// the WebSocket hub, whose RunWithContext already matches the contract.
type RunFunc struct {
	name string
	run  func(ctx context.Context) error
}

// NewRunFunc wraps a blocking run function for supervision.
func NewRunFunc(name string, run func(ctx context.Context) error) *RunFunc {
	return &RunFunc{name: name, run: run}
}

// Serve runs the wrapped function.
func (s *RunFunc) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String names the service in supervisor logs.
func (s *RunFunc) String() string {
	return s.name
}
