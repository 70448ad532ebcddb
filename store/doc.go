// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store is the persistent state store for the conclave
// messaging client: room state snapshots, message timelines, encryption
// session material and device lists, durable across restarts and
// encrypted at rest under a passphrase-protected master secret.
//
// Every operation the sync/crypto engine performs runs as exactly one
// transaction against the backing store, so callers observe
// all-or-nothing semantics without external locking. Reads are served
// from an in-memory hot cache where possible; the cache holds shared,
// invalidatable copies and is never authoritative.
//
// WARNING: If both your database and passphrase were compromised,
//          changing the passphrase won't accomplish anything, because
//          the store encrypts the master secret with the passphrase
//          supplied when the database is created. An attacker who knew
//          the passphrase and had a previous copy of the store knows
//          the master secret and can decrypt everything.
//
// WARNING 2: The master secret is kept in memory while the store is
//            open. The package is vulnerable to memory reading malware.
package store
