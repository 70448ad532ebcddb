// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypt

// KeyMode says how an identifier appears inside a record key.
type KeyMode int

const (
	// KeyHashed identifiers are stored as keyed HMAC-SHA256 hashes.
	// Equality and prefix grouping still work; the identifier itself is
	// not recoverable from disk.
	KeyHashed KeyMode = iota

	// KeyOrdered fields are stored as plaintext big-endian integers.
	// They carry no confidentiality requirement and readers depend on
	// their byte order for range scans.
	KeyOrdered

	// KeyPlain fields are stored verbatim. Only allowed for
	// non-sensitive bookkeeping keys.
	KeyPlain
)

// FieldPolicy describes one segment of a table's record key.
type FieldPolicy struct {
	Name string
	Mode KeyMode
}

// TablePolicy is the per-table at-rest policy: whether record bodies are
// encrypted and how each key segment is rendered. Every table the store
// persists has an entry here; there is no implicit default.
type TablePolicy struct {
	Table       string
	EncryptBody bool
	KeyFields   []FieldPolicy
}

// Policy is the audit table for what is and is not encrypted at rest.
// Changing an entry is a schema change and needs a migration.
var Policy = []TablePolicy{
	{
		Table:       "roomstate",
		EncryptBody: true,
		KeyFields: []FieldPolicy{
			{Name: "roomID", Mode: KeyHashed},
		},
	},
	{
		Table:       "timeline",
		EncryptBody: true,
		KeyFields: []FieldPolicy{
			{Name: "roomID", Mode: KeyHashed},
			{Name: "position", Mode: KeyOrdered},
		},
	},
	{
		Table:       "sessions",
		EncryptBody: true,
		KeyFields: []FieldPolicy{
			{Name: "scopeID", Mode: KeyHashed},
			{Name: "sessionID", Mode: KeyHashed},
		},
	},
	{
		Table:       "devices",
		EncryptBody: true,
		KeyFields: []FieldPolicy{
			{Name: "userID", Mode: KeyHashed},
			{Name: "deviceID", Mode: KeyHashed},
		},
	},
	{
		// Bootstrap records: salt, wrapped master secret, schema version,
		// instance ID and position counters. Nothing here is secret; the
		// wrapped secret is already ciphertext in its own right.
		Table:       "misc",
		EncryptBody: false,
		KeyFields: []FieldPolicy{
			{Name: "name", Mode: KeyPlain},
		},
	},
}

// PolicyFor returns the policy for a table, or nil if the table is not
// declared. Callers treat nil as a programming error.
func PolicyFor(table string) *TablePolicy {
	for i := range Policy {
		if Policy[i].Table == table {
			return &Policy[i]
		}
	}
	return nil
}
