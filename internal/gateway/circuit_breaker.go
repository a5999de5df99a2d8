// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
)

// CircuitBreakerClient wraps PlatformClient with the circuit breaker pattern
// so a failing or slow tracking platform cannot cascade into the sync loops.
//
// DETERMINISM NOTE: The circuit breaker uses real time (via sony/gobreaker)
// for its interval and timeout calculations. Tests should exercise the
// wrapped client directly rather than mocking the breaker.
type CircuitBreakerClient struct {
	client PlatformAPI
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// Ensure CircuitBreakerClient implements PlatformAPI
var _ PlatformAPI = (*CircuitBreakerClient)(nil)

// NewCircuitBreakerClient creates a platform client with circuit breaker.
// Circuit breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(cfg *config.PlatformConfig) *CircuitBreakerClient {
	return wrapWithBreaker(NewPlatformClient(cfg))
}

func wrapWithBreaker(client PlatformAPI) *CircuitBreakerClient {
	cbName := "platform-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		// Opens when failure rate >= 60% with minimum 10 requests
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps a platform API call with circuit breaker protection.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()

			counts := cbc.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(float64(counts.ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(0)

	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateToFloat converts circuit breaker state to a numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Login authenticates with circuit breaker protection.
func (cbc *CircuitBreakerClient) Login(ctx context.Context) (*models.Session, error) {
	return castResult[*models.Session](cbc.execute(func() (interface{}, error) {
		return cbc.client.Login(ctx)
	}))
}

// ValidateToken checks token acceptance with circuit breaker protection.
func (cbc *CircuitBreakerClient) ValidateToken(ctx context.Context, token string) (bool, error) {
	return castResult[bool](cbc.execute(func() (interface{}, error) {
		return cbc.client.ValidateToken(ctx, token)
	}))
}

// RefreshToken refreshes a token with circuit breaker protection.
func (cbc *CircuitBreakerClient) RefreshToken(ctx context.Context, token string) (*models.Session, error) {
	return castResult[*models.Session](cbc.execute(func() (interface{}, error) {
		return cbc.client.RefreshToken(ctx, token)
	}))
}

// QueryVehicleList retrieves the device list with circuit breaker protection.
func (cbc *CircuitBreakerClient) QueryVehicleList(ctx context.Context, token string) ([]models.RawVehicle, error) {
	return castResult[[]models.RawVehicle](cbc.execute(func() (interface{}, error) {
		return cbc.client.QueryVehicleList(ctx, token)
	}))
}

// QueryLastPositions retrieves latest fixes with circuit breaker protection.
func (cbc *CircuitBreakerClient) QueryLastPositions(ctx context.Context, token string, deviceIDs []string) ([]models.RawPosition, error) {
	return castResult[[]models.RawPosition](cbc.execute(func() (interface{}, error) {
		return cbc.client.QueryLastPositions(ctx, token, deviceIDs)
	}))
}

// Ping verifies connectivity with circuit breaker protection.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}
