// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kv defines the backing transactional store: named tables of
// key-value records with all-or-nothing transactions spanning any number
// of tables. The durable implementation is backed by bolt; package
// store/mem provides an in-memory implementation of the same interfaces
// with optimistic conflict detection, used in tests and for ephemeral
// stores.
package kv
