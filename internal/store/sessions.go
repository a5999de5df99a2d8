// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
sessions.go - Persistent Platform Session Store

Session records survive process restarts in BadgerDB so the console can
resume an existing platform session instead of re-authenticating on every
start. Platform tokens are encrypted at rest when an encryption key is
configured.
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetsight/internal/models"
)

// ErrNoSession indicates no persisted session exists for the user.
var ErrNoSession = errors.New("no persisted session")

// Key prefixes for BadgerDB storage
const (
	sessionKeyPrefix     = "session:"
	sessionUserKeyPrefix = "session_user:"
)

// SessionStore persists platform session records in BadgerDB.
type SessionStore struct {
	db  *badger.DB
	enc *TokenEncryptor
}

// NewSessionStore opens the BadgerDB-backed session store at path. The
// encryptor may be nil, in which case tokens are stored in plaintext.
func NewSessionStore(path string, enc *TokenEncryptor) (*SessionStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &SessionStore{db: db, enc: enc}, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Upsert stores a session record, replacing any record with the same ID.
func (s *SessionStore) Upsert(_ context.Context, rec *models.SessionRecord) error {
	stored := *rec
	token, err := s.enc.Encrypt(rec.Token)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	stored.Token = token

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		sessionKey := []byte(sessionKeyPrefix + rec.ID)
		if err := txn.Set(sessionKey, data); err != nil {
			return fmt.Errorf("set session: %w", err)
		}

		// User-to-session mapping for efficient per-user lookup
		userKey := []byte(sessionUserKeyPrefix + rec.LocalUserID + ":" + rec.ID)
		if err := txn.Set(userKey, []byte(rec.ID)); err != nil {
			return fmt.Errorf("set user mapping: %w", err)
		}

		return nil
	})
}

// LatestForUser returns the most recently updated session record for a
// user, or ErrNoSession when none exists. Expired records are returned as
// well: the caller decides whether an expired row is still refreshable.
func (s *SessionStore) LatestForUser(_ context.Context, localUserID string) (*models.SessionRecord, error) {
	records, err := s.recordsForUser(localUserID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoSession
	}

	latest := records[0]
	for _, rec := range records[1:] {
		if rec.UpdatedAt.After(latest.UpdatedAt) {
			latest = rec
		}
	}

	token, err := s.enc.Decrypt(latest.Token)
	if err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}
	latest.Token = token

	return latest, nil
}

// DeleteExpiredForUser removes all of a user's session records whose token
// has expired. Returns the number of records deleted.
func (s *SessionStore) DeleteExpiredForUser(ctx context.Context, localUserID string, now time.Time) (int, error) {
	records, err := s.recordsForUser(localUserID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range records {
		if !rec.IsExpired(now) {
			continue
		}
		if err := s.delete(ctx, rec); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteAllForUser removes every session record for a user. Returns the
// number of records deleted.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, localUserID string) (int, error) {
	records, err := s.recordsForUser(localUserID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range records {
		if err := s.delete(ctx, rec); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// delete removes one record and its user mapping.
func (s *SessionStore) delete(_ context.Context, rec *models.SessionRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		sessionKey := []byte(sessionKeyPrefix + rec.ID)
		if err := txn.Delete(sessionKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}

		userKey := []byte(sessionUserKeyPrefix + rec.LocalUserID + ":" + rec.ID)
		if err := txn.Delete(userKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete user mapping: %w", err)
		}

		return nil
	})
}

// recordsForUser loads all session records for a user. Tokens stay in their
// stored (possibly encrypted) form.
func (s *SessionStore) recordsForUser(localUserID string) ([]*models.SessionRecord, error) {
	var records []*models.SessionRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionUserKeyPrefix + localUserID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sessionID string
			err := it.Item().Value(func(val []byte) error {
				sessionID = string(val)
				return nil
			})
			if err != nil {
				continue
			}

			item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
			if err != nil {
				continue // mapping may outlive a deleted session
			}

			var rec models.SessionRecord
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				continue
			}

			records = append(records, &rec)
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	return records, nil
}
