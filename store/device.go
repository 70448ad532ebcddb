// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/kv"
)

// PutDevices stores the refreshed device list for a user in one
// transaction. A refresh never silently downgrades trust: a device the
// store already holds as verified stays verified even when the incoming
// record says otherwise. Use ResetDeviceTrust for an explicit
// downgrade.
func (s *Store) PutDevices(userID UserID, devices []DeviceRecord) error {
	if len(devices) == 0 {
		return nil
	}
	userHash := s.cipher.IndexHash(string(userID))

	keys := make([][]byte, len(devices))
	for i := range devices {
		keys[i] = s.deviceKey(userHash, devices[i].DeviceID)
		s.cache.Pin(string(TableDevices), keys[i])
	}
	defer func() {
		for _, k := range keys {
			s.cache.Unpin(string(TableDevices), k)
		}
	}()

	stored := make([]DeviceRecord, 0, len(devices))
	err := s.update(func(tx kv.Tx) error {
		stored = stored[:0]
		for i := range devices {
			d := devices[i]
			d.UserID = userID

			blob, err := tx.Get(TableDevices, keys[i])
			switch {
			case err == nil:
				var cur DeviceRecord
				if err := s.openRecord(TableDevices, keys[i], blob, &cur); err != nil {
					return err
				}
				if cur.Verified {
					d.Verified = true
				}
			case errors.Is(err, kv.ErrNotFound):
			default:
				return err
			}

			sealed, err := s.sealRecord(TableDevices, keys[i], &d)
			if err != nil {
				return err
			}
			if err := tx.Put(TableDevices, keys[i], sealed); err != nil {
				return err
			}
			stored = append(stored, d)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range stored {
		d := stored[i]
		s.cache.Insert(string(TableDevices), keys[i], &d)
	}
	return nil
}

// DeviceList returns every stored device of a user with its trust
// flag, sorted by device ID.
func (s *Store) DeviceList(userID UserID) ([]DeviceRecord, error) {
	userHash := s.cipher.IndexHash(string(userID))

	var out []DeviceRecord
	err := s.view(func(tx kv.Tx) error {
		return tx.ForEach(TableDevices, userHash, func(k, v []byte) error {
			if cached, ok := s.cache.Get(string(TableDevices), k); ok {
				out = append(out, *cached.(*DeviceRecord))
				return nil
			}
			var d DeviceRecord
			if err := s.openRecord(TableDevices, k, v, &d); err != nil {
				return err
			}
			ck := make([]byte, len(k))
			copy(ck, k)
			cp := d
			s.cache.Insert(string(TableDevices), ck, &cp)
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// MarkDeviceTrust marks a device as verified. Passing trusted=false is
// rejected with ErrTrustDowngrade: downgrades only happen through
// ResetDeviceTrust so they can never be triggered by a routine sync
// path.
func (s *Store) MarkDeviceTrust(userID UserID, deviceID DeviceID, trusted bool) error {
	if !trusted {
		return ErrTrustDowngrade
	}
	return s.setDeviceTrust(userID, deviceID, true)
}

// ResetDeviceTrust explicitly clears a device's verified flag.
func (s *Store) ResetDeviceTrust(userID UserID, deviceID DeviceID) error {
	return s.setDeviceTrust(userID, deviceID, false)
}

func (s *Store) setDeviceTrust(userID UserID, deviceID DeviceID, trusted bool) error {
	userHash := s.cipher.IndexHash(string(userID))
	key := s.deviceKey(userHash, deviceID)

	s.cache.Pin(string(TableDevices), key)
	defer s.cache.Unpin(string(TableDevices), key)

	var d DeviceRecord
	err := s.update(func(tx kv.Tx) error {
		d = DeviceRecord{}
		blob, err := tx.Get(TableDevices, key)
		if err != nil {
			return err
		}
		if err := s.openRecord(TableDevices, key, blob, &d); err != nil {
			return err
		}

		d.Verified = trusted

		sealed, err := s.sealRecord(TableDevices, key, &d)
		if err != nil {
			return err
		}
		return tx.Put(TableDevices, key, sealed)
	})
	if err != nil {
		return err
	}

	s.cache.Insert(string(TableDevices), key, &d)
	return nil
}
