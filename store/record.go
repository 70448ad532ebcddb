// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"encoding/json"
)

// RoomID identifies a room across the federation.
type RoomID string

// UserID identifies a user across the federation.
type UserID string

// DeviceID identifies one device of a user.
type DeviceID string

// Position is a monotonically increasing slot in a room's timeline.
// Positions start at 1; 0 means "unset" or "unbounded" depending on
// context.
type Position uint64

// StateEvent is one entry of a room's state: the latest event content
// for an (event type, state key) pair. In a delta passed to
// SaveRoomState, a nil Content removes the pair from the snapshot.
type StateEvent struct {
	Type     string          `json:"type"`
	StateKey string          `json:"stateKey"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// RoomState is the materialized snapshot of a room's state events. It
// is read and written as one atomic unit.
type RoomState struct {
	RoomID RoomID       `json:"roomID"`
	Events []StateEvent `json:"events"`
}

// Event returns the content stored for (eventType, stateKey).
func (rs *RoomState) Event(eventType, stateKey string) (StateEvent, bool) {
	for _, e := range rs.Events {
		if e.Type == eventType && e.StateKey == stateKey {
			return e, true
		}
	}
	return StateEvent{}, false
}

// clone returns a copy whose Events slice is independent of the
// original. Read paths hand clones to callers so a caller mutating its
// result cannot reach the cached copy.
func (rs *RoomState) clone() *RoomState {
	cp := *rs
	cp.Events = append([]StateEvent(nil), rs.Events...)
	return &cp
}

// apply merges a delta into the snapshot. Entries with nil Content are
// removed, others replace or extend the existing set.
func (rs *RoomState) apply(delta []StateEvent) {
	for _, d := range delta {
		idx := -1
		for i, e := range rs.Events {
			if e.Type == d.Type && e.StateKey == d.StateKey {
				idx = i
				break
			}
		}
		switch {
		case d.Content == nil && idx >= 0:
			rs.Events = append(rs.Events[:idx], rs.Events[idx+1:]...)
		case d.Content == nil:
			// Removing an absent entry is a no-op.
		case idx >= 0:
			rs.Events[idx] = d
		default:
			rs.Events = append(rs.Events, d)
		}
	}
}

// TimelineEvent is one message or state transition in a room's
// timeline. Events are immutable once stored; redaction blanks the
// content but keeps the position slot.
type TimelineEvent struct {
	EventID    string          `json:"eventID"`
	Sender     UserID          `json:"sender"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content,omitempty"`
	Timestamp  int64           `json:"ts,omitempty"`
	Position   Position        `json:"position"`
	Redacted   bool            `json:"redacted,omitempty"`
	RedactedBy string          `json:"redactedBy,omitempty"`
}

// SessionType is the direction of an encryption session.
type SessionType uint8

const (
	// SessionOutbound sessions encrypt messages this client sends.
	SessionOutbound SessionType = iota

	// SessionInbound sessions decrypt messages from a single sender
	// device or room.
	SessionInbound
)

// Session holds the ratchet state of one encryption session. The
// Ratchet counter advances strictly monotonically; a write that would
// not increase it is rejected, which is the primary corruption
// detection signal for session state.
type Session struct {
	// ScopeID is the room or device the session belongs to.
	ScopeID string `json:"scopeID"`

	SessionID string      `json:"sessionID"`
	Type      SessionType `json:"sessionType"`
	Ratchet   uint64      `json:"ratchet"`

	// Pickle is the opaque serialized ratchet state produced by the
	// crypto engine. The store never interprets it.
	Pickle []byte `json:"pickle"`
}

// clone returns a copy with its own Pickle bytes.
func (s *Session) clone() *Session {
	cp := *s
	cp.Pickle = append([]byte(nil), s.Pickle...)
	return &cp
}

// DeviceRecord holds the public key material and trust state for one
// device of a user.
type DeviceRecord struct {
	UserID      UserID   `json:"userID"`
	DeviceID    DeviceID `json:"deviceID"`
	DisplayName string   `json:"displayName,omitempty"`
	IdentityKey string   `json:"identityKey"`
	SigningKey  string   `json:"signingKey"`
	Verified    bool     `json:"verified"`
}

// RoomSummary is the UI-facing room list entry.
type RoomSummary struct {
	RoomID       RoomID
	StateEvents  int
	LastPosition Position
}
