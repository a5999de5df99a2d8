// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
client.go - Tracking Platform REST API Client

This file implements the REST client for the external GPS tracking platform.
It provides authentication (login, validate, refresh) and fleet data queries
(vehicle list, last positions).

All calls pass through a client-side rate limiter so that the two sync loops
and the health monitor cannot exceed the platform's request quota combined.
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
)

// ErrUnauthorized is returned when the platform rejects the token or the
// account credentials. Callers treat this as a signal to re-authenticate.
var ErrUnauthorized = errors.New("platform rejected credentials")

// defaultTokenLifetime is assumed when the platform issues an opaque token
// with no expiry information.
const defaultTokenLifetime = 24 * time.Hour

// PlatformAPI defines the tracking platform operations. Both PlatformClient
// and CircuitBreakerClient implement this interface.
type PlatformAPI interface {
	Login(ctx context.Context) (*models.Session, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
	RefreshToken(ctx context.Context, token string) (*models.Session, error)
	QueryVehicleList(ctx context.Context, token string) ([]models.RawVehicle, error)
	QueryLastPositions(ctx context.Context, token string, deviceIDs []string) ([]models.RawPosition, error)
	Ping(ctx context.Context) error
}

// Ensure PlatformClient implements PlatformAPI
var _ PlatformAPI = (*PlatformClient)(nil)

// PlatformClient provides access to the tracking platform REST API.
type PlatformClient struct {
	baseURL         string
	username        string
	password        string
	httpClient      *http.Client
	limiter         *rate.Limiter
	validateTimeout time.Duration
}

// NewPlatformClient creates a new tracking platform API client.
func NewPlatformClient(cfg *config.PlatformConfig) *PlatformClient {
	return &PlatformClient{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:         rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		validateTimeout: cfg.ValidateTimeout,
	}
}

// loginResponse is the platform's authentication payload. ExpiresAt is epoch
// seconds and is zero for platforms that encode expiry in the token itself.
type loginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userid"`
	ExpiresAt int64  `json:"expiresat"`
}

// recordsEnvelope wraps the platform's list query responses.
type recordsEnvelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Records []T    `json:"records"`
}

// Login authenticates with the configured account credentials and returns a
// fresh session.
func (c *PlatformClient) Login(ctx context.Context) (*models.Session, error) {
	body := map[string]string{
		"username": c.username,
		"password": c.password,
	}

	resp, err := c.doPost(ctx, "login", "/api/v1/auth/login", "", body)
	if err != nil {
		return nil, fmt.Errorf("platform login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("platform login: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("platform login", resp)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("failed to decode platform login response: %w", err)
	}
	if lr.Token == "" {
		return nil, fmt.Errorf("platform login returned an empty token")
	}

	return &models.Session{
		Token:     lr.Token,
		Username:  c.username,
		ExpiresAt: tokenExpiry(lr.Token, lr.ExpiresAt, time.Now()),
	}, nil
}

// ValidateToken asks the platform whether a token is still accepted. The call
// runs under its own short timeout so a slow platform cannot stall callers
// that are deciding whether to refresh.
func (c *PlatformClient) ValidateToken(ctx context.Context, token string) (bool, error) {
	vctx, cancel := context.WithTimeout(ctx, c.validateTimeout)
	defer cancel()

	resp, err := c.doGet(vctx, "validate", "/api/v1/auth/validate", token, nil)
	if err != nil {
		return false, fmt.Errorf("platform token validation failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, statusError("platform token validation", resp)
	}
}

// RefreshToken exchanges a still-valid token for a fresh one.
func (c *PlatformClient) RefreshToken(ctx context.Context, token string) (*models.Session, error) {
	resp, err := c.doPost(ctx, "refresh", "/api/v1/auth/refresh", token, nil)
	if err != nil {
		return nil, fmt.Errorf("platform token refresh failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("platform token refresh: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("platform token refresh", resp)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("failed to decode platform refresh response: %w", err)
	}
	if lr.Token == "" {
		return nil, fmt.Errorf("platform refresh returned an empty token")
	}

	return &models.Session{
		Token:     lr.Token,
		Username:  c.username,
		ExpiresAt: tokenExpiry(lr.Token, lr.ExpiresAt, time.Now()),
	}, nil
}

// QueryVehicleList retrieves all devices registered to the account.
func (c *PlatformClient) QueryVehicleList(ctx context.Context, token string) ([]models.RawVehicle, error) {
	resp, err := c.doGet(ctx, "vehicle_list", "/api/v1/vehicles", token, nil)
	if err != nil {
		return nil, fmt.Errorf("platform vehicle list request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("platform vehicle list: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("platform vehicle list", resp)
	}

	var env recordsEnvelope[models.RawVehicle]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode platform vehicle list: %w", err)
	}

	return env.Records, nil
}

// QueryLastPositions retrieves the latest known fix for the given devices.
// With no device filter the platform returns fixes for the whole account.
func (c *PlatformClient) QueryLastPositions(ctx context.Context, token string, deviceIDs []string) ([]models.RawPosition, error) {
	var query url.Values
	if len(deviceIDs) > 0 {
		query = url.Values{"deviceids": {strings.Join(deviceIDs, ",")}}
	}

	resp, err := c.doGet(ctx, "last_positions", "/api/v1/positions/last", token, query)
	if err != nil {
		return nil, fmt.Errorf("platform last positions request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("platform last positions: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("platform last positions", resp)
	}

	var env recordsEnvelope[models.RawPosition]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode platform last positions: %w", err)
	}

	return env.Records, nil
}

// Ping tests connectivity to the platform without authentication.
func (c *PlatformClient) Ping(ctx context.Context) error {
	resp, err := c.doGet(ctx, "ping", "/api/v1/ping", "", nil)
	if err != nil {
		return fmt.Errorf("platform ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("platform ping returned status %d", resp.StatusCode)
	}
	return nil
}

// doGet performs a rate-limited GET request against the platform.
func (c *PlatformClient) doGet(ctx context.Context, operation, endpoint, token string, query url.Values) (*http.Response, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.send(operation, req, token)
}

// doPost performs a rate-limited POST request with an optional JSON body.
func (c *PlatformClient) doPost(ctx context.Context, operation, endpoint, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(operation, req, token)
}

func (c *PlatformClient) send(operation string, req *http.Request, token string) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordPlatformRequest(operation, time.Since(start), classifyTransportError(err))
		return nil, err
	}

	errType := ""
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		errType = "auth"
	case resp.StatusCode >= 400:
		errType = "http"
	}
	metrics.RecordPlatformRequest(operation, time.Since(start), errType)

	return resp, nil
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport"
}

// statusError drains the response body into an error message.
func statusError(operation string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(body) == 0 {
		return fmt.Errorf("%s returned status %d", operation, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", operation, resp.StatusCode, string(body))
}

// tokenExpiry determines when a token expires. An explicit expiry from the
// platform wins; otherwise the JWT exp claim is used when the token parses as
// a JWT; opaque tokens get a conservative fixed lifetime.
func tokenExpiry(token string, expiresAt int64, now time.Time) time.Time {
	if expiresAt > 0 {
		return time.Unix(expiresAt, 0)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return now.Add(defaultTokenLifetime)
}
