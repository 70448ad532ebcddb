// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kv

import (
	"bytes"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// dbTimeout is how long Open waits for the file lock before giving up.
const dbTimeout = time.Second

// dbInitialMmapSize preallocates the mmap so small write transactions never
// need to remap the data file. A remap waits on every open read transaction,
// so without this a goroutine holding a reader while committing a write
// deadlocks.
const dbInitialMmapSize = 1 << 24 // 16 MiB

// BoltEngine is the durable Engine backed by a bolt database file. Bolt
// gives single-writer serialization, so overlapping writers queue rather
// than conflict; readers get MVCC snapshots for free.
type BoltEngine struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) the bolt file at path.
func OpenBolt(path string) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:         dbTimeout,
		InitialMmapSize: dbInitialMmapSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt database")
	}
	return &BoltEngine{db: db}, nil
}

// CreateTables creates the named buckets if they do not exist.
func (e *BoltEngine) CreateTables(tables ...TableName) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		for _, table := range tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return errors.Wrapf(err, "creating table %s", table)
			}
		}
		return nil
	})
}

// Begin starts a bolt transaction.
func (e *BoltEngine) Begin(writable bool) (Tx, error) {
	tx, err := e.db.Begin(writable)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	return &boltTx{tx: tx, writable: writable}, nil
}

// Close closes the database file.
func (e *BoltEngine) Close() error {
	return e.db.Close()
}

type boltTx struct {
	tx       *bolt.Tx
	writable bool
	done     bool
}

func (t *boltTx) bucket(table TableName) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(table))
	if b == nil {
		return nil, errors.WithMessage(ErrNoTable, string(table))
	}
	return b, nil
}

func (t *boltTx) Get(table TableName, key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	b, err := t.bucket(table)
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	// Bolt's slice is only valid for the life of the transaction.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTx) Put(table TableName, key, value []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	b, err := t.bucket(table)
	if err != nil {
		return err
	}
	return errors.Wrap(b.Put(key, value), "put")
}

func (t *boltTx) Delete(table TableName, key []byte) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	b, err := t.bucket(table)
	if err != nil {
		return err
	}
	return errors.Wrap(b.Delete(key), "delete")
}

func (t *boltTx) ForEach(table TableName, prefix []byte, fn func(k, v []byte) error) error {
	if t.done {
		return ErrTxClosed
	}
	b, err := t.bucket(table)
	if err != nil {
		return err
	}
	cursor := b.Cursor()
	for k, v := cursor.Seek(prefix); k != nil; k, v = cursor.Next() {
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if v == nil { // Nested bucket; not part of the table's records.
			continue
		}
		if err := fn(k, v); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *boltTx) Clear(table TableName) error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.tx.DeleteBucket([]byte(table)); err != nil {
		if err == bolt.ErrBucketNotFound {
			return errors.WithMessage(ErrNoTable, string(table))
		}
		return errors.Wrap(err, "clearing table")
	}
	_, err := t.tx.CreateBucket([]byte(table))
	return errors.Wrap(err, "recreating table")
}

func (t *boltTx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	if !t.writable {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		log.Warnf("Commit failed: %v", err)
		return errors.WithMessage(ErrCommitFailed, err.Error())
	}
	return nil
}

func (t *boltTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
