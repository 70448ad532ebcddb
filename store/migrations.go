// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/crypt"
	"github.com/conclave-im/conclave/store/kv"
	"github.com/conclave-im/conclave/store/migrate"
)

// LatestSchemaVersion is the layout version this code writes.
const LatestSchemaVersion = 3

// migrationChain is the upgrade chain. Every step is idempotent: after
// a crash between a step's commit and the marker update, the step runs
// again on the next open and must land in the same state. Steps that
// rewrite record keys need the cipher, because the storage key is bound
// into every record's authentication tag.
func migrationChain(cipher *crypt.Cipher) []migrate.Step {
	return []migrate.Step{
		{To: 1, Name: "baseline", Up: migrateBaseline},
		{To: 2, Name: "widen timeline positions", Up: migrateWidenPositions(cipher)},
		{To: 3, Name: "rebuild position counters", Up: migrateRebuildCounters},
	}
}

var createdAtKey = []byte("createdAt")

// migrateBaseline stamps a fresh store. Tables themselves are created
// by Open before the chain runs.
func migrateBaseline(tx kv.Tx) error {
	if _, err := tx.Get(TableMisc, createdAtKey); err == nil {
		return nil
	} else if err != kv.ErrNotFound {
		return err
	}
	return tx.Put(TableMisc, createdAtKey, []byte{1})
}

// migrateWidenPositions rewrites timeline keys from the v1 layout
// (32-byte room hash + 4-byte position) to the current 8-byte
// positions. The storage key is part of every record's authentication
// tag, so each record is opened under its old key and re-sealed under
// the new one; a record that cannot be opened fails the whole step
// rather than surviving as an unreadable blob. Keys already in the new
// layout are left alone, which is what makes the step idempotent.
func migrateWidenPositions(cipher *crypt.Cipher) func(tx kv.Tx) error {
	return func(tx kv.Tx) error {
		type rekey struct{ old, new, value []byte }
		var rekeys []rekey

		err := tx.ForEach(TableTimeline, nil, func(k, v []byte) error {
			if len(k) != crypt.IndexHashSize+4 {
				return nil
			}
			pos := binary.BigEndian.Uint32(k[crypt.IndexHashSize:])
			nk := make([]byte, crypt.IndexHashSize+8)
			copy(nk, k[:crypt.IndexHashSize])
			binary.BigEndian.PutUint64(nk[crypt.IndexHashSize:], uint64(pos))

			ok := make([]byte, len(k))
			copy(ok, k)

			plain, err := cipher.Open(v, crypt.Context{
				Table: string(TableTimeline), Key: ok,
			})
			if err != nil {
				return errors.WithMessagef(err,
					"timeline record at position %d cannot be read", pos)
			}
			sealed, err := cipher.Seal(plain, crypt.Context{
				Table: string(TableTimeline), Key: nk,
			})
			crypt.Zero(plain)
			if err != nil {
				return err
			}

			rekeys = append(rekeys, rekey{old: ok, new: nk, value: sealed})
			return nil
		})
		if err != nil {
			return err
		}

		for _, r := range rekeys {
			if err := tx.Put(TableTimeline, r.new, r.value); err != nil {
				return err
			}
			if err := tx.Delete(TableTimeline, r.old); err != nil {
				return err
			}
		}
		return nil
	}
}

// migrateRebuildCounters drops the per-room latest-position counters
// and rebuilds them from the timeline itself. The counters are pure
// derived state, so the rebuild is always safe.
func migrateRebuildCounters(tx kv.Tx) error {
	var stale [][]byte
	err := tx.ForEach(TableMisc, lastPosPrefix, func(k, _ []byte) error {
		cp := make([]byte, len(k))
		copy(cp, k)
		stale = append(stale, cp)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := tx.Delete(TableMisc, k); err != nil {
			return err
		}
	}

	last := make(map[string]uint64)
	err = tx.ForEach(TableTimeline, nil, func(k, _ []byte) error {
		if len(k) != crypt.IndexHashSize+8 {
			return nil
		}
		room := string(k[:crypt.IndexHashSize])
		pos := binary.BigEndian.Uint64(k[crypt.IndexHashSize:])
		if pos > last[room] {
			last[room] = pos
		}
		return nil
	})
	if err != nil {
		return err
	}

	for room, pos := range last {
		if err := writeLastPos(tx, []byte(room), Position(pos)); err != nil {
			return err
		}
	}
	return nil
}
