// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package migrate upgrades the on-disk layout of the state store
// between schema versions. The chain is an ordered list of idempotent
// steps, each run in its own transaction; the version marker advances
// in a separate transaction only after a step has committed, so a crash
// between the two re-runs the (idempotent) step on the next open
// instead of losing data.
package migrate

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/kv"
)

// markerKey is the singleton record holding the schema version.
var markerKey = []byte("schemaVersion")

// ErrMigrationFailed is returned when the on-disk layout cannot be
// safely brought to the current version. The store must refuse to open
// rather than risk silent data loss.
var ErrMigrationFailed = errors.New("schema migration failed")

// State is the migrator's lifecycle state.
type State int

const (
	StateUnopened State = iota
	StateVersionChecked
	StateMigrating
	StateReady
	StateFailed
)

// Step upgrades the layout to version To. Up must be idempotent: it may
// run again after a crash that struck between its commit and the marker
// update, and must then land in the same final state.
type Step struct {
	To   int
	Name string
	Up   func(tx kv.Tx) error
}

// Migrator drives the upgrade chain for one engine.
type Migrator struct {
	eng         kv.Engine
	markerTable kv.TableName
	steps       []Step
	state       State
}

// New returns a migrator that keeps the version marker in markerTable.
// Steps must be ordered by ascending To.
func New(eng kv.Engine, markerTable kv.TableName, steps []Step) *Migrator {
	return &Migrator{eng: eng, markerTable: markerTable, steps: steps, state: StateUnopened}
}

// State reports the migrator's current lifecycle state.
func (m *Migrator) State() State {
	return m.state
}

// Target returns the version the chain upgrades to.
func (m *Migrator) Target() int {
	if len(m.steps) == 0 {
		return 0
	}
	return m.steps[len(m.steps)-1].To
}

// Run reads the persisted version marker and applies every pending
// step. It returns the version the store ended at. A marker ahead of
// the code's version fails with ErrMigrationFailed, as does any step
// error.
func (m *Migrator) Run() (int, error) {
	version, err := m.readMarker()
	if err != nil {
		m.state = StateFailed
		return 0, errors.WithMessage(ErrMigrationFailed, err.Error())
	}
	m.state = StateVersionChecked

	if version > m.Target() {
		m.state = StateFailed
		log.Errorf("Store version %d is newer than supported version %d", version, m.Target())
		return version, errors.WithMessagef(ErrMigrationFailed,
			"store version %d is newer than supported version %d", version, m.Target())
	}

	for _, step := range m.steps {
		if step.To <= version {
			continue
		}
		m.state = StateMigrating
		log.Infof("Migrating store to version %d (%s)", step.To, step.Name)

		if err := kv.Update(m.eng, step.Up); err != nil {
			m.state = StateFailed
			return version, errors.WithMessagef(ErrMigrationFailed,
				"step %d (%s): %v", step.To, step.Name, err)
		}
		// The marker moves in its own transaction, strictly after the
		// step's commit.
		if err := m.writeMarker(step.To); err != nil {
			m.state = StateFailed
			return version, errors.WithMessagef(ErrMigrationFailed,
				"recording version %d: %v", step.To, err)
		}
		version = step.To
	}

	m.state = StateReady
	return version, nil
}

// readMarker returns the persisted schema version, or 0 for a store
// that has never completed a migration step.
func (m *Migrator) readMarker() (int, error) {
	var version int
	err := kv.View(m.eng, func(tx kv.Tx) error {
		v, err := tx.Get(m.markerTable, markerKey)
		if errors.Is(err, kv.ErrNotFound) {
			version = 0
			return nil
		}
		if err != nil {
			return err
		}
		if len(v) != 4 {
			return errors.Errorf("malformed version marker (%d bytes)", len(v))
		}
		version = int(binary.BigEndian.Uint32(v))
		return nil
	})
	return version, err
}

func (m *Migrator) writeMarker(version int) error {
	return kv.Update(m.eng, func(tx kv.Tx) error {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, uint32(version))
		return tx.Put(m.markerTable, markerKey, v)
	})
}
