// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
publisher.go - NATS Event Publisher

Optional fan-out of fleet and health changes to NATS subjects so other
console services can react without polling the API. Publishing is fire and
forget: a failed publish is counted and logged, never propagated into the
sync or health paths.
*/

package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
)

// Event types published to NATS.
const (
	TypeFleetUpdate  = "fleet.update"
	TypeHealthChange = "health.change"
)

// Event is the envelope every published message carries.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher publishes fleet events to NATS. A nil *Publisher is valid and
// publishes nothing, so callers never need to branch on whether NATS is
// configured.
type Publisher struct {
	nc            *nats.Conn
	subjectPrefix string

	mu     sync.Mutex
	closed bool
}

// NewPublisher connects to NATS when enabled in config; returns (nil, nil)
// when disabled. The connection retries in the background, so a NATS outage
// at boot does not block startup.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logging.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("NATS event publishing enabled")
	return &Publisher{nc: nc, subjectPrefix: cfg.SubjectPrefix}, nil
}

// PublishFleetUpdate publishes the current fleet snapshot.
func (p *Publisher) PublishFleetUpdate(vehicles []*models.VehicleRecord) {
	p.publish("vehicles", TypeFleetUpdate, vehicles)
}

// PublishHealthChange publishes a new health status.
func (p *Publisher) PublishHealthChange(status models.HealthStatus) {
	p.publish("health", TypeHealthChange, status)
}

func (p *Publisher) publish(subjectSuffix, eventType string, payload interface{}) {
	if p == nil {
		return
	}

	subject := p.subjectPrefix + "." + subjectSuffix
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		metrics.NATSPublishErrors.Inc()
		logging.Warn().Err(err).Str("subject", subject).Msg("Failed to encode event")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		metrics.NATSPublishErrors.Inc()
		logging.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}

	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()
}

// Healthy reports whether the NATS connection is up. A nil publisher is
// always healthy (nothing to publish).
func (p *Publisher) Healthy() bool {
	if p == nil {
		return true
	}
	return p.nc.IsConnected()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
