// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/kv"
)

// SaveRoomState applies a state delta to the room's snapshot in one
// transaction. Entries with nil Content are removed from the snapshot.
// The snapshot is never partially written: either the whole updated
// snapshot lands or nothing does.
func (s *Store) SaveRoomState(roomID RoomID, delta []StateEvent) error {
	key := s.roomKey(roomID)
	s.cache.Pin(string(TableRoomState), key)
	defer s.cache.Unpin(string(TableRoomState), key)

	var snapshot RoomState
	err := s.update(func(tx kv.Tx) error {
		snapshot = RoomState{RoomID: roomID}
		blob, err := tx.Get(TableRoomState, key)
		switch {
		case err == nil:
			if err := s.openRecord(TableRoomState, key, blob, &snapshot); err != nil {
				return err
			}
		case errors.Is(err, kv.ErrNotFound):
		default:
			return err
		}

		snapshot.apply(delta)

		sealed, err := s.sealRecord(TableRoomState, key, &snapshot)
		if err != nil {
			return err
		}
		return tx.Put(TableRoomState, key, sealed)
	})
	if err != nil {
		return err
	}

	s.cache.Insert(string(TableRoomState), key, &snapshot)
	return nil
}

// RoomState returns the current snapshot for a room, or ErrNotFound if
// the room has never had state saved.
func (s *Store) RoomState(roomID RoomID) (*RoomState, error) {
	key := s.roomKey(roomID)

	// Reads return copies; the cached snapshot is shared between
	// readers and must never be reachable through a returned pointer.
	if v, ok := s.cache.Get(string(TableRoomState), key); ok {
		return v.(*RoomState).clone(), nil
	}

	snapshot := &RoomState{}
	err := s.view(func(tx kv.Tx) error {
		blob, err := tx.Get(TableRoomState, key)
		if err != nil {
			return err
		}
		return s.openRecord(TableRoomState, key, blob, snapshot)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Insert(string(TableRoomState), key, snapshot)
	return snapshot.clone(), nil
}

// Rooms returns a summary for every room with stored state, sorted by
// room ID. Summaries are derived from the snapshots and the timeline
// position counters in one consistent read.
func (s *Store) Rooms() ([]RoomSummary, error) {
	var out []RoomSummary
	err := s.view(func(tx kv.Tx) error {
		return tx.ForEach(TableRoomState, nil, func(k, v []byte) error {
			var snapshot RoomState
			if cached, ok := s.cache.Get(string(TableRoomState), k); ok {
				snapshot = *cached.(*RoomState)
			} else {
				if err := s.openRecord(TableRoomState, k, v, &snapshot); err != nil {
					return err
				}
			}
			last, err := readLastPos(tx, k)
			if err != nil {
				return err
			}
			out = append(out, RoomSummary{
				RoomID:       snapshot.RoomID,
				StateEvents:  len(snapshot.Events),
				LastPosition: last,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}
