// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/crypt"
	"github.com/conclave-im/conclave/store/kv"
	"github.com/conclave-im/conclave/store/migrate"
)

var (
	// ErrNotFound is returned when no record matches the query. Absence
	// is a normal result, not a corruption signal.
	ErrNotFound = kv.ErrNotFound

	// ErrConflict is returned when a concurrent operation committed
	// first. The store already retried with fresh reads a bounded number
	// of times before surfacing this.
	ErrConflict = kv.ErrConflict

	// ErrCommitFailed is returned when the backing medium refused a
	// commit even after bounded retries. The whole logical operation may
	// be retried by the caller.
	ErrCommitFailed = kv.ErrCommitFailed

	// ErrIntegrity is returned when decryption or authentication of
	// stored data fails, including a wrong passphrase at open. The data
	// is unusable; nothing is auto-repaired.
	ErrIntegrity = crypt.ErrIntegrity

	// ErrMigrationFailed is returned by Open when the on-disk layout
	// cannot be safely upgraded. The store refuses to open.
	ErrMigrationFailed = migrate.ErrMigrationFailed

	// ErrRatchetRegression is returned when a session write would not
	// advance the stored ratchet counter. The write is rejected and the
	// stored state is unchanged; this signals a protocol desync
	// upstream and is not retried.
	ErrRatchetRegression = errors.New("ratchet state regression")

	// ErrTrustDowngrade is returned when a device would be downgraded
	// from verified without an explicit trust reset.
	ErrTrustDowngrade = errors.New("implicit trust downgrade")

	// ErrStoreClosed is returned when the store is used after Close.
	ErrStoreClosed = errors.New("store is closed")
)
