// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kv

import (
	"github.com/pkg/errors"
)

// TableName names a logical table (a top-level bucket) in the store.
type TableName string

var (
	// ErrNotFound is returned when no record matches the given key.
	ErrNotFound = errors.New("record not found")

	// ErrNoTable is returned when an operation names a table that was
	// never created.
	ErrNoTable = errors.New("no such table")

	// ErrCommitFailed is returned when a transaction could not be made
	// durable. The whole logical operation must be retried; retrying an
	// individual sub-step is forbidden.
	ErrCommitFailed = errors.New("commit failed")

	// ErrConflict is returned when an overlapping transaction committed
	// first. The caller must rebuild its transaction from fresh reads.
	ErrConflict = errors.New("transaction conflict")

	// ErrTxClosed is returned when a transaction is used after Commit or
	// Rollback.
	ErrTxClosed = errors.New("transaction closed")

	// ErrReadOnly is returned when a mutation is attempted inside a
	// read-only transaction.
	ErrReadOnly = errors.New("read-only transaction")

	// ErrStop may be returned from a ForEach callback to stop iteration
	// early without surfacing an error.
	ErrStop = errors.New("stop iteration")
)

// Engine is a durable multi-table store with atomic transactions.
type Engine interface {
	// Begin starts a transaction. Read-only transactions observe a
	// consistent snapshot taken at Begin. Writes made inside a writable
	// transaction are invisible to others until Commit.
	Begin(writable bool) (Tx, error)

	// CreateTables creates the named tables if they do not exist.
	CreateTables(tables ...TableName) error

	// Close releases the underlying medium. Transactions must not be in
	// flight.
	Close() error
}

// Tx is a transaction over one engine. All mutations land atomically on
// Commit or not at all.
type Tx interface {
	// Get returns the value stored under key, or ErrNotFound. The
	// returned slice is a copy owned by the caller.
	Get(table TableName, key []byte) ([]byte, error)

	// Put stores value under key.
	Put(table TableName, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(table TableName, key []byte) error

	// ForEach calls fn for every key with the given prefix, in ascending
	// key order. A nil prefix visits the whole table. fn may return
	// ErrStop to end early. Iteration is restartable from scratch but
	// not resumable across transaction boundaries.
	ForEach(table TableName, prefix []byte, fn func(k, v []byte) error) error

	// Clear drops every record in the table, keeping the table itself.
	Clear(table TableName) error

	// Commit makes the transaction's writes durable.
	Commit() error

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}

// View runs fn inside a read-only transaction.
func View(e Engine, fn func(Tx) error) error {
	tx, err := e.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Update runs fn inside a writable transaction, committing if fn
// succeeds and rolling back otherwise.
func Update(e Engine, fn func(Tx) error) error {
	tx, err := e.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
