// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
manager.go - Platform Session Manager

The manager owns the single authenticated session against the external
tracking platform. All components that need a token go through
ValidateAndEnsureSession, which guarantees:

  - a returned session has more than the refresh margin of lifetime left
  - concurrent callers share one refresh instead of racing the platform
  - session changes are broadcast to subscribers (sync loops, health
    monitor) so they can react to recovery or loss
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/fleetsight/internal/gateway"
	"github.com/tomtom215/fleetsight/internal/logging"
	"github.com/tomtom215/fleetsight/internal/metrics"
	"github.com/tomtom215/fleetsight/internal/models"
	"github.com/tomtom215/fleetsight/internal/store"
)

// Session manager errors
var (
	// ErrNoSessionConfigured indicates no platform account is configured.
	ErrNoSessionConfigured = errors.New("no platform account configured")

	// ErrReauthenticationRequired indicates the platform rejected both the
	// stored token and the configured credentials. Operator action is needed.
	ErrReauthenticationRequired = errors.New("platform re-authentication required")
)

// refreshKey is the singleflight key; there is only one platform account,
// so all refreshes coalesce onto a single flight.
const refreshKey = "session-refresh"

// Manager maintains the authenticated platform session.
type Manager struct {
	client      gateway.PlatformAPI
	sessions    *store.SessionStore
	localUserID string
	margin      time.Duration

	mu      sync.RWMutex
	current *models.Session

	subMu  sync.RWMutex
	subs   map[int]func(*models.Session)
	nextID int

	group singleflight.Group
}

// Config holds session manager construction parameters.
type Config struct {
	// LocalUserID identifies the console account that owns the platform
	// session in the session store.
	LocalUserID string

	// RefreshMargin is the remaining token lifetime below which a session
	// is refreshed proactively.
	RefreshMargin time.Duration
}

// NewManager creates a session manager. The platform client should be the
// circuit-breaker wrapped client.
func NewManager(client gateway.PlatformAPI, sessions *store.SessionStore, cfg Config) *Manager {
	return &Manager{
		client:      client,
		sessions:    sessions,
		localUserID: cfg.LocalUserID,
		margin:      cfg.RefreshMargin,
		subs:        make(map[int]func(*models.Session)),
	}
}

// GetCurrentSession returns a copy of the current session, or nil when no
// session is established. It never triggers a refresh.
func (m *Manager) GetCurrentSession() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySession(m.current)
}

// ValidateAndEnsureSession returns a session that is locally unexpired and
// accepted by the platform, refreshing or re-authenticating as needed.
//
// Validation fails closed: when the platform cannot confirm a token within
// the validation timeout, the token is treated as invalid and refreshed. A
// stale refresh beats handing out a token the platform may reject mid-sync.
func (m *Manager) ValidateAndEnsureSession(ctx context.Context) (*models.Session, error) {
	if m.localUserID == "" {
		return nil, ErrNoSessionConfigured
	}

	if s := m.usableSession(ctx); s != nil {
		return s, nil
	}

	result, err, shared := m.group.Do(refreshKey, func() (interface{}, error) {
		// A concurrent caller may have refreshed while we waited.
		if s := m.usableSession(ctx); s != nil {
			return s, nil
		}
		session, err := m.refresh(ctx)
		if err != nil {
			// Session loss is published once per flight so dependent state
			// (vehicle statuses) can degrade.
			m.notify(nil)
			return nil, err
		}
		return session, nil
	})
	if shared {
		metrics.SessionRefreshCoalesced.Inc()
	}
	if err != nil {
		metrics.SetSessionValid(false)
		return nil, err
	}

	session, ok := result.(*models.Session)
	if !ok {
		return nil, fmt.Errorf("unexpected refresh result type %T", result)
	}
	return copySession(session), nil
}

// IsSessionValid reports whether the current session passes both the local
// margin check and remote validation. It never triggers a refresh; health
// probes use it to observe without mutating session state.
func (m *Manager) IsSessionValid(ctx context.Context) bool {
	return m.usableSession(ctx) != nil
}

// usableSession returns a copy of the current session if it passes both the
// local margin check and remote validation, else nil.
func (m *Manager) usableSession(ctx context.Context) *models.Session {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	if !current.IsValid(time.Now(), m.margin) {
		return nil
	}

	valid, err := m.client.ValidateToken(ctx, current.Token)
	if err != nil {
		logging.Warn().Err(err).Msg("Session validation unreachable, treating token as invalid")
		return nil
	}
	if !valid {
		logging.Info().Msg("Platform no longer accepts current token")
		return nil
	}

	metrics.SetSessionValid(true)
	return copySession(current)
}

// refresh obtains a fresh session: first by refreshing a persisted token,
// then by logging in with the configured credentials.
func (m *Manager) refresh(ctx context.Context) (*models.Session, error) {
	now := time.Now()

	if deleted, err := m.sessions.DeleteExpiredForUser(ctx, m.localUserID, now); err != nil {
		logging.Warn().Err(err).Msg("Failed to prune expired session rows")
	} else if deleted > 0 {
		logging.Debug().Int("deleted", deleted).Msg("Pruned expired session rows")
	}

	session, err := m.refreshFromStore(ctx, now)
	if err == nil && session != nil {
		return m.adopt(ctx, session, "refresh")
	}

	session, err = m.client.Login(ctx)
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues("failure").Inc()
		if errors.Is(err, gateway.ErrUnauthorized) {
			metrics.SessionRefreshes.WithLabelValues("reauth_required").Inc()
			return nil, fmt.Errorf("%w: %s", ErrReauthenticationRequired, err.Error())
		}
		return nil, fmt.Errorf("platform login failed: %w", err)
	}

	return m.adopt(ctx, session, "login")
}

// refreshFromStore tries to exchange a persisted unexpired token for a
// fresh one. Returns (nil, error) when no usable record exists or the
// platform rejects the exchange; the caller falls back to a full login.
func (m *Manager) refreshFromStore(ctx context.Context, now time.Time) (*models.Session, error) {
	rec, err := m.sessions.LatestForUser(ctx, m.localUserID)
	if err != nil {
		if !errors.Is(err, store.ErrNoSession) {
			logging.Warn().Err(err).Msg("Failed to load persisted session")
		}
		return nil, err
	}
	if rec.IsExpired(now) {
		return nil, store.ErrNoSession
	}

	session, err := m.client.RefreshToken(ctx, rec.Token)
	if err != nil {
		logging.Info().Err(err).Msg("Stored token refresh failed, falling back to login")
		return nil, err
	}
	session.LocalUserID = m.localUserID
	return session, nil
}

// adopt persists and installs a new session and notifies subscribers.
func (m *Manager) adopt(ctx context.Context, session *models.Session, how string) (*models.Session, error) {
	session.LocalUserID = m.localUserID

	now := time.Now()
	rec := &models.SessionRecord{
		ID:          uuid.NewString(),
		LocalUserID: m.localUserID,
		Username:    session.Username,
		Token:       session.Token,
		ExpiresAt:   session.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.sessions.Upsert(ctx, rec); err != nil {
		// The session is still usable in memory; persistence failure only
		// costs a re-login after restart.
		logging.Warn().Err(err).Msg("Failed to persist refreshed session")
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()

	metrics.SessionRefreshes.WithLabelValues("success").Inc()
	metrics.SetSessionValid(true)
	logging.Info().Str("method", how).Time("expires_at", session.ExpiresAt).Msg("Platform session established")

	m.notify(session)
	return session, nil
}

// ForceReauthentication discards all persisted and in-memory session state
// and performs a fresh login.
func (m *Manager) ForceReauthentication(ctx context.Context) (*models.Session, error) {
	if m.localUserID == "" {
		return nil, ErrNoSessionConfigured
	}

	if _, err := m.sessions.DeleteAllForUser(ctx, m.localUserID); err != nil {
		logging.Warn().Err(err).Msg("Failed to clear persisted sessions")
	}

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	metrics.SetSessionValid(false)
	m.notify(nil)

	session, err := m.client.Login(ctx)
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues("failure").Inc()
		if errors.Is(err, gateway.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %s", ErrReauthenticationRequired, err.Error())
		}
		return nil, fmt.Errorf("platform login failed: %w", err)
	}

	adopted, err := m.adopt(ctx, session, "forced")
	if err != nil {
		return nil, err
	}
	return copySession(adopted), nil
}

// ClearCurrent drops only the in-memory session, keeping persisted records.
// The next ValidateAndEnsureSession call resumes from the store. Subscribers
// are told the session is gone so dependent state (vehicle statuses) can
// degrade immediately.
func (m *Manager) ClearCurrent() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	metrics.SetSessionValid(false)

	m.notify(nil)
}

// Subscribe registers a callback invoked whenever a new session is
// established. The current session (which may be nil) is delivered
// immediately. The returned function unsubscribes.
//
// Callbacks run synchronously but isolated: a panicking subscriber cannot
// take down the refresh path or other subscribers.
func (m *Manager) Subscribe(fn func(*models.Session)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	safeNotify(fn, m.GetCurrentSession())

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// notify delivers a session change to all subscribers.
func (m *Manager) notify(session *models.Session) {
	m.subMu.RLock()
	subs := make([]func(*models.Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		safeNotify(fn, copySession(session))
	}
}

// safeNotify invokes one subscriber callback, recovering panics.
func safeNotify(fn func(*models.Session), session *models.Session) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("Session subscriber panicked")
		}
	}()
	fn(session)
}

// copySession returns a defensive copy; nil stays nil.
func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
