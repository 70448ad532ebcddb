// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/crypt"
	"github.com/conclave-im/conclave/store/kv"
)

// AppendTimelineEvents stores events at the end of the room's timeline,
// assigning consecutive positions, in a single transaction: either all
// events land or none do. The assigned positions are written back into
// the passed slice.
func (s *Store) AppendTimelineEvents(roomID RoomID, events []TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	roomHash := s.roomKey(roomID)

	stored := make([]TimelineEvent, 0, len(events))
	err := s.update(func(tx kv.Tx) error {
		stored = stored[:0]
		last, err := readLastPos(tx, roomHash)
		if err != nil {
			return err
		}
		for i := range events {
			e := events[i]
			e.Position = last + Position(i) + 1
			key := s.timelineKey(roomHash, e.Position)
			sealed, err := s.sealRecord(TableTimeline, key, &e)
			if err != nil {
				return err
			}
			if err := tx.Put(TableTimeline, key, sealed); err != nil {
				return err
			}
			stored = append(stored, e)
		}
		return writeLastPos(tx, roomHash, last+Position(len(events)))
	})
	if err != nil {
		return err
	}

	// Populate the cache only now that the commit is durable.
	for i := range stored {
		e := stored[i]
		events[i].Position = e.Position
		s.cache.Insert(string(TableTimeline), s.timelineKey(roomHash, e.Position), &e)
	}
	return nil
}

// TimelineRange returns the room's events with from <= position <= to
// in ascending position order. to == 0 means unbounded; limit == 0
// means no count limit.
func (s *Store) TimelineRange(roomID RoomID, from, to Position, limit int) ([]TimelineEvent, error) {
	roomHash := s.roomKey(roomID)

	var out []TimelineEvent
	err := s.view(func(tx kv.Tx) error {
		return tx.ForEach(TableTimeline, roomHash, func(k, v []byte) error {
			if len(k) != crypt.IndexHashSize+8 {
				return nil
			}
			pos := Position(binary.BigEndian.Uint64(k[crypt.IndexHashSize:]))
			if pos < from {
				return nil
			}
			if to != 0 && pos > to {
				return kv.ErrStop
			}

			if cached, ok := s.cache.Get(string(TableTimeline), k); ok {
				out = append(out, *cached.(*TimelineEvent))
			} else {
				var e TimelineEvent
				if err := s.openRecord(TableTimeline, k, v, &e); err != nil {
					return err
				}
				ck := make([]byte, len(k))
				copy(ck, k)
				cp := e
				s.cache.Insert(string(TableTimeline), ck, &cp)
				out = append(out, e)
			}

			if limit != 0 && len(out) >= limit {
				return kv.ErrStop
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastPosition returns the latest assigned timeline position for a
// room, 0 if the room has no events.
func (s *Store) LastPosition(roomID RoomID) (Position, error) {
	roomHash := s.roomKey(roomID)
	var last Position
	err := s.view(func(tx kv.Tx) error {
		var err error
		last, err = readLastPos(tx, roomHash)
		return err
	})
	return last, err
}

// RedactEvent blanks the content of the event at pos, keeping its
// position slot. Redacting an absent event returns ErrNotFound;
// redacting twice is a no-op for the content but records the latest
// redactor.
func (s *Store) RedactEvent(roomID RoomID, pos Position, redactedBy string) error {
	roomHash := s.roomKey(roomID)
	key := s.timelineKey(roomHash, pos)

	s.cache.Pin(string(TableTimeline), key)
	defer s.cache.Unpin(string(TableTimeline), key)

	var ev TimelineEvent
	err := s.update(func(tx kv.Tx) error {
		ev = TimelineEvent{}
		blob, err := tx.Get(TableTimeline, key)
		if err != nil {
			return err
		}
		if err := s.openRecord(TableTimeline, key, blob, &ev); err != nil {
			return err
		}

		ev.Content = nil
		ev.Redacted = true
		ev.RedactedBy = redactedBy

		sealed, err := s.sealRecord(TableTimeline, key, &ev)
		if err != nil {
			return err
		}
		return tx.Put(TableTimeline, key, sealed)
	})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.cache.Insert(string(TableTimeline), key, &ev)
	return nil
}
