// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypt

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// SecretSize is the size of the store's master secret. The first half
	// keys the record AEAD, the second half keys the index hashes.
	SecretSize = 64

	// SaltSize is the length of the salt used by the passphrase KDF.
	SaltSize = 32

	// aeadKeySize is the size of the chacha20poly1305 key.
	aeadKeySize = chacha20poly1305.KeySize

	// macKeySize is the size of the HMAC-SHA256 key for index hashes.
	macKeySize = 32

	// wrapNonceSize is the size of the nonce used by secretbox when
	// wrapping the master secret.
	wrapNonceSize = 24

	// wrapKeySize is the size of the secretbox wrapping key.
	wrapKeySize = 32

	// IndexHashSize is the length of a keyed index hash.
	IndexHashSize = sha256.Size

	// Argon2id parameters for deriving the wrapping key from a
	// passphrase. 64 MiB of memory makes offline guessing expensive.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	// ErrIntegrity is returned when decryption or authentication of a
	// stored blob fails. The data is unusable and is never returned.
	ErrIntegrity = errors.New("integrity check failed")
)

// Context identifies the record a blob belongs to. It is bound into the
// authentication tag so that a ciphertext copied from one record to
// another fails to decrypt.
type Context struct {
	Table string
	Key   []byte
}

// aad encodes the context as additional authenticated data. The table
// name cannot contain a zero byte, so the encoding is unambiguous.
func (ctx Context) aad() []byte {
	out := make([]byte, 0, len(ctx.Table)+1+len(ctx.Key))
	out = append(out, ctx.Table...)
	out = append(out, 0x00)
	out = append(out, ctx.Key...)
	return out
}

// Cipher encrypts and decrypts store records and produces keyed hashes
// for searchable index fields. It holds derived key material in memory
// for the lifetime of the open store; call Zero when the store closes.
type Cipher struct {
	aead   cipher.AEAD
	macKey [macKeySize]byte
	secret [SecretSize]byte
}

// NewSecret generates a fresh random master secret.
func NewSecret() (*[SecretSize]byte, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, errors.Wrap(err, "generating master secret")
	}
	return &secret, nil
}

// NewCipher constructs a Cipher from the master secret.
func NewCipher(secret *[SecretSize]byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(secret[:aeadKeySize])
	if err != nil {
		return nil, errors.Wrap(err, "constructing record AEAD")
	}
	c := &Cipher{aead: aead}
	copy(c.macKey[:], secret[aeadKeySize:])
	copy(c.secret[:], secret[:])
	return c, nil
}

// Seal encrypts plaintext for the record identified by ctx. The random
// nonce is prepended to the returned blob.
func (c *Cipher) Seal(plaintext []byte, ctx Context) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}
	return c.aead.Seal(nonce, nonce, plaintext, ctx.aad()), nil
}

// Open decrypts a blob produced by Seal for the same ctx. Truncated
// blobs, tag mismatches and context mismatches all fail with
// ErrIntegrity; garbage is never returned.
func (c *Cipher) Open(blob []byte, ctx Context) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSize+c.aead.Overhead() {
		return nil, ErrIntegrity
	}
	nonce := blob[:chacha20poly1305.NonceSize]
	plaintext, err := c.aead.Open(nil, nonce, blob[chacha20poly1305.NonceSize:], ctx.aad())
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// IndexHash returns the deterministic keyed hash of an identifier for
// use in record keys. Equal inputs map to equal hashes, so prefix scans
// over a hashed identifier still work, while the identifier itself never
// touches the disk in plaintext.
func (c *Cipher) IndexHash(id string) []byte {
	mac := hmac.New(sha256.New, c.macKey[:])
	mac.Write([]byte(id))
	return mac.Sum(nil)
}

// Secret returns the master secret. Used when rewrapping it under a new
// passphrase.
func (c *Cipher) Secret() *[SecretSize]byte {
	var secret [SecretSize]byte
	copy(secret[:], c.secret[:])
	return &secret
}

// Zero scrubs the key material held by the Cipher. The Cipher must not
// be used afterwards.
func (c *Cipher) Zero() {
	Zero(c.macKey[:])
	Zero(c.secret[:])
}

// deriveWrapKey derives the secretbox key that protects the master
// secret from a passphrase and salt using argon2id.
func deriveWrapKey(pass, salt []byte) *[wrapKeySize]byte {
	out := argon2.IDKey(pass, salt, argonTime, argonMemory, argonThreads, wrapKeySize)
	var key [wrapKeySize]byte
	copy(key[:], out)
	Zero(out)
	return &key
}

// WrapSecret encrypts the master secret under a key derived from the
// passphrase. It returns the salt used for derivation and the wrapped
// blob (nonce prepended), both of which are safe to persist.
func WrapSecret(pass []byte, secret *[SecretSize]byte) (salt, blob []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, errors.Wrap(err, "generating salt")
	}
	var nonce [wrapNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, errors.Wrap(err, "generating nonce")
	}
	key := deriveWrapKey(pass, salt)
	defer Zero(key[:])

	blob = make([]byte, wrapNonceSize)
	copy(blob, nonce[:])
	blob = secretbox.Seal(blob, secret[:], &nonce, key)
	return salt, blob, nil
}

// UnwrapSecret decrypts a wrapped master secret. A wrong passphrase or a
// tampered blob fails with ErrIntegrity.
func UnwrapSecret(pass, salt, blob []byte) (*[SecretSize]byte, error) {
	if len(blob) < wrapNonceSize+SecretSize+secretbox.Overhead {
		return nil, ErrIntegrity
	}
	var nonce [wrapNonceSize]byte
	copy(nonce[:], blob[:wrapNonceSize])
	key := deriveWrapKey(pass, salt)
	defer Zero(key[:])

	out, ok := secretbox.Open(nil, blob[wrapNonceSize:], &nonce, key)
	if !ok {
		return nil, ErrIntegrity
	}
	var secret [SecretSize]byte
	copy(secret[:], out)
	Zero(out)
	return &secret, nil
}

// Zero overwrites b with zeroes.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
