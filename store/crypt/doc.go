// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package crypt implements the encryption codec for the conclave state
// store. Record bodies are encrypted with ChaCha20-Poly1305 under a key
// cut from a random 64-byte master secret; the (table, key) context of
// every record is bound into the authentication tag, so a blob moved
// between records fails to decrypt. Identifiers that must remain
// searchable are rendered as HMAC-SHA256 keyed hashes instead of
// ciphertext. The master secret itself is persisted only wrapped in a
// secretbox under an argon2id-derived key, so the passphrase guards the
// store but never keys it directly.
//
// WARNING: the unwrapped master secret is kept in memory while the
//          store is open. The package is vulnerable to memory reading
//          malware.
package crypt
