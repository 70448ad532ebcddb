// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mem

import (
	"bytes"
	"sort"
	"sync"

	"github.com/conclave-im/conclave/store/kv"
)

// entry is one record slot. A nil value is a tombstone: the record was
// deleted at ver, which keeps deletions visible to commit validation.
type entry struct {
	value []byte
	ver   uint64
}

// Engine is an in-memory kv.Engine. Transactions read from a snapshot
// taken at Begin; writers are validated on commit and the first
// committer wins, losers get kv.ErrConflict. Useful for tests and for
// throwaway stores that should not touch the disk.
type Engine struct {
	mu      sync.Mutex
	tables  map[kv.TableName]map[string]entry
	cleared map[kv.TableName]uint64 // version of the last Clear per table
	version uint64

	failNextCommit bool
}

// New returns an empty engine with the given tables.
func New(tables ...kv.TableName) *Engine {
	e := &Engine{
		tables:  make(map[kv.TableName]map[string]entry),
		cleared: make(map[kv.TableName]uint64),
	}
	for _, t := range tables {
		e.tables[t] = make(map[string]entry)
	}
	return e
}

// CreateTables creates the named tables if they do not exist.
func (e *Engine) CreateTables(tables ...kv.TableName) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tables {
		if _, ok := e.tables[t]; !ok {
			e.tables[t] = make(map[string]entry)
		}
	}
	return nil
}

// Close is a no-op for the in-memory engine.
func (e *Engine) Close() error {
	return nil
}

// FailNextCommit makes the next Commit fail with kv.ErrCommitFailed
// without applying any writes. Simulates a full or failing medium.
func (e *Engine) FailNextCommit() {
	e.mu.Lock()
	e.failNextCommit = true
	e.mu.Unlock()
}

// Begin starts a transaction over a snapshot of the current state.
func (e *Engine) Begin(writable bool) (kv.Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make(map[kv.TableName]map[string]entry, len(e.tables))
	for name, table := range e.tables {
		cp := make(map[string]entry, len(table))
		for k, v := range table {
			cp[k] = v
		}
		snapshot[name] = cp
	}
	return &memTx{
		eng:      e,
		base:     e.version,
		snapshot: snapshot,
		writable: writable,
		puts:     make(map[kv.TableName]map[string][]byte),
		cleared:  make(map[kv.TableName]bool),
	}, nil
}

type memTx struct {
	eng      *Engine
	base     uint64
	snapshot map[kv.TableName]map[string]entry
	writable bool
	done     bool

	// puts overlays the snapshot; a nil value marks a delete. cleared
	// tables discard the snapshot contents before the overlay applies.
	puts    map[kv.TableName]map[string][]byte
	cleared map[kv.TableName]bool
}

func (t *memTx) table(name kv.TableName) (map[string]entry, error) {
	table, ok := t.snapshot[name]
	if !ok {
		return nil, kv.ErrNoTable
	}
	return table, nil
}

func (t *memTx) Get(name kv.TableName, key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrTxClosed
	}
	table, err := t.table(name)
	if err != nil {
		return nil, err
	}
	if overlay, ok := t.puts[name]; ok {
		if v, ok := overlay[string(key)]; ok {
			if v == nil {
				return nil, kv.ErrNotFound
			}
			out := make([]byte, len(v))
			copy(out, v)
			return out, nil
		}
	}
	if t.cleared[name] {
		return nil, kv.ErrNotFound
	}
	ent, ok := table[string(key)]
	if !ok || ent.value == nil {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, nil
}

func (t *memTx) Put(name kv.TableName, key, value []byte) error {
	if t.done {
		return kv.ErrTxClosed
	}
	if !t.writable {
		return kv.ErrReadOnly
	}
	if _, err := t.table(name); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	t.overlay(name)[string(key)] = cp
	return nil
}

func (t *memTx) Delete(name kv.TableName, key []byte) error {
	if t.done {
		return kv.ErrTxClosed
	}
	if !t.writable {
		return kv.ErrReadOnly
	}
	if _, err := t.table(name); err != nil {
		return err
	}
	t.overlay(name)[string(key)] = nil
	return nil
}

func (t *memTx) Clear(name kv.TableName) error {
	if t.done {
		return kv.ErrTxClosed
	}
	if !t.writable {
		return kv.ErrReadOnly
	}
	if _, err := t.table(name); err != nil {
		return err
	}
	t.cleared[name] = true
	t.puts[name] = make(map[string][]byte)
	return nil
}

func (t *memTx) overlay(name kv.TableName) map[string][]byte {
	m, ok := t.puts[name]
	if !ok {
		m = make(map[string][]byte)
		t.puts[name] = m
	}
	return m
}

func (t *memTx) ForEach(name kv.TableName, prefix []byte, fn func(k, v []byte) error) error {
	if t.done {
		return kv.ErrTxClosed
	}
	table, err := t.table(name)
	if err != nil {
		return err
	}

	merged := make(map[string][]byte)
	if !t.cleared[name] {
		for k, ent := range table {
			if ent.value != nil {
				merged[k] = ent.value
			}
		}
	}
	for k, v := range t.puts[name] {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			if err == kv.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return kv.ErrTxClosed
	}
	t.done = true
	if !t.writable {
		return nil
	}

	e := t.eng
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failNextCommit {
		e.failNextCommit = false
		return kv.ErrCommitFailed
	}

	// First committer wins: reject if anything we are about to overwrite
	// moved since our snapshot. Tombstones and table clears carry
	// versions too, so delete-then-put and clear-then-put overlaps are
	// caught like any other write-write overlap.
	for name := range t.cleared {
		if e.cleared[name] > t.base {
			return kv.ErrConflict
		}
		for _, ent := range e.tables[name] {
			if ent.ver > t.base {
				return kv.ErrConflict
			}
		}
	}
	for name, overlay := range t.puts {
		if t.cleared[name] {
			continue
		}
		if e.cleared[name] > t.base {
			return kv.ErrConflict
		}
		for k := range overlay {
			if ent, ok := e.tables[name][k]; ok && ent.ver > t.base {
				return kv.ErrConflict
			}
		}
	}

	e.version++
	for name := range t.cleared {
		e.tables[name] = make(map[string]entry)
		e.cleared[name] = e.version
	}
	for name, overlay := range t.puts {
		for k, v := range overlay {
			if v == nil {
				e.tables[name][k] = entry{ver: e.version}
				continue
			}
			e.tables[name][k] = entry{value: v, ver: e.version}
		}
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}
