// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/kv"
)

// AdvanceSession stores a session's new ratchet state. The stored
// ratchet counter is strictly monotonic: a write whose counter does not
// exceed the stored one is rejected with ErrRatchetRegression and
// leaves the stored state untouched. Regressions signal a protocol
// desync upstream and are never retried here.
func (s *Store) AdvanceSession(sess *Session) error {
	scopeHash := s.cipher.IndexHash(sess.ScopeID)
	key := s.sessionKey(scopeHash, sess.SessionID)

	s.cache.Pin(string(TableSessions), key)
	defer s.cache.Unpin(string(TableSessions), key)

	err := s.update(func(tx kv.Tx) error {
		blob, err := tx.Get(TableSessions, key)
		switch {
		case err == nil:
			var cur Session
			if err := s.openRecord(TableSessions, key, blob, &cur); err != nil {
				return err
			}
			if sess.Ratchet <= cur.Ratchet {
				return errors.WithMessagef(ErrRatchetRegression,
					"counter %d does not advance stored %d", sess.Ratchet, cur.Ratchet)
			}
		case errors.Is(err, kv.ErrNotFound):
		default:
			return err
		}

		sealed, err := s.sealRecord(TableSessions, key, sess)
		if err != nil {
			return err
		}
		return tx.Put(TableSessions, key, sealed)
	})
	if err != nil {
		return err
	}

	s.cache.Insert(string(TableSessions), key, sess.clone())
	return nil
}

// SessionByID returns the stored session for (scopeID, sessionID),
// or ErrNotFound.
func (s *Store) SessionByID(scopeID, sessionID string) (*Session, error) {
	scopeHash := s.cipher.IndexHash(scopeID)
	key := s.sessionKey(scopeHash, sessionID)

	// Reads return copies: the cached value stays shared between
	// readers and must never be reachable through a returned pointer.
	if v, ok := s.cache.Get(string(TableSessions), key); ok {
		return v.(*Session).clone(), nil
	}

	sess := &Session{}
	err := s.view(func(tx kv.Tx) error {
		blob, err := tx.Get(TableSessions, key)
		if err != nil {
			return err
		}
		return s.openRecord(TableSessions, key, blob, sess)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Insert(string(TableSessions), key, sess)
	return sess.clone(), nil
}

// Sessions returns every stored session for a scope (a room or a
// device), sorted by session ID.
func (s *Store) Sessions(scopeID string) ([]*Session, error) {
	scopeHash := s.cipher.IndexHash(scopeID)

	var out []*Session
	err := s.view(func(tx kv.Tx) error {
		return tx.ForEach(TableSessions, scopeHash, func(k, v []byte) error {
			if cached, ok := s.cache.Get(string(TableSessions), k); ok {
				out = append(out, cached.(*Session).clone())
				return nil
			}
			sess := &Session{}
			if err := s.openRecord(TableSessions, k, v, sess); err != nil {
				return err
			}
			ck := make([]byte, len(k))
			copy(ck, k)
			s.cache.Insert(string(TableSessions), ck, sess)
			out = append(out, sess.clone())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}
