// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/cache"
	"github.com/conclave-im/conclave/store/crypt"
	"github.com/conclave-im/conclave/store/kv"
	"github.com/conclave-im/conclave/store/migrate"
)

// Logical tables, one per entity kind. Their at-rest policy lives in
// crypt.Policy.
const (
	TableRoomState kv.TableName = "roomstate"
	TableTimeline  kv.TableName = "timeline"
	TableSessions  kv.TableName = "sessions"
	TableDevices   kv.TableName = "devices"
	TableMisc      kv.TableName = "misc"
)

var tables = []kv.TableName{
	TableRoomState, TableTimeline, TableSessions, TableDevices, TableMisc,
}

// Singleton records in the misc table.
var (
	// saltKey holds the KDF salt for this store instance.
	saltKey = []byte("salt")

	// wrappedSecretKey holds the master secret, encrypted under the
	// passphrase-derived wrapping key.
	wrappedSecretKey = []byte("storeSecret")

	// instanceIDKey holds the random ID assigned when the store was
	// created.
	instanceIDKey = []byte("instanceID")

	// lastPosPrefix prefixes the per-room latest timeline position
	// counters.
	lastPosPrefix = []byte("lastpos:")
)

// maxTxRetries bounds how often an operation is rebuilt and retried
// after a conflict or commit failure before the error surfaces.
const maxTxRetries = 5

// timelineCacheCap overrides the default hot-cache bound for the
// timeline table, which holds far more records than the others.
const timelineCacheCap = 16384

// Store is the encrypted, transactional state store. It is safe for
// use by any number of concurrent tasks.
type Store struct {
	eng        kv.Engine
	cipher     *crypt.Cipher
	cache      *cache.Cache
	instanceID string
	version    int

	mu     sync.RWMutex // guards closed
	closed bool
}

// Open opens (creating if necessary) the durable store at path,
// unlocking it with pass. A wrong passphrase fails with ErrIntegrity;
// an on-disk layout that cannot be upgraded fails with
// ErrMigrationFailed.
func Open(path string, pass []byte) (*Store, error) {
	eng, err := kv.OpenBolt(path)
	if err != nil {
		return nil, err
	}
	s, err := OpenWith(eng, pass)
	if err != nil {
		eng.Close()
		return nil, err
	}
	return s, nil
}

// OpenWith opens a store over an existing engine. Useful with the mem
// engine for ephemeral stores and in tests.
func OpenWith(eng kv.Engine, pass []byte) (*Store, error) {
	if err := eng.CreateTables(tables...); err != nil {
		return nil, err
	}

	// Unwrap the master secret, or mint one for a new store.
	var secret *[crypt.SecretSize]byte
	var instanceID string
	err := kv.Update(eng, func(tx kv.Tx) error {
		blob, err := tx.Get(TableMisc, wrappedSecretKey)
		if errors.Is(err, kv.ErrNotFound) {
			secret, err = crypt.NewSecret()
			if err != nil {
				return err
			}
			salt, wrapped, err := crypt.WrapSecret(pass, secret)
			if err != nil {
				return err
			}
			if err := tx.Put(TableMisc, saltKey, salt); err != nil {
				return err
			}
			if err := tx.Put(TableMisc, wrappedSecretKey, wrapped); err != nil {
				return err
			}
			instanceID = uuid.NewString()
			return tx.Put(TableMisc, instanceIDKey, []byte(instanceID))
		}
		if err != nil {
			return err
		}

		salt, err := tx.Get(TableMisc, saltKey)
		if err != nil {
			return err
		}
		secret, err = crypt.UnwrapSecret(pass, salt, blob)
		if err != nil {
			return err
		}
		id, err := tx.Get(TableMisc, instanceIDKey)
		if err != nil {
			return err
		}
		instanceID = string(id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	cipher, err := crypt.NewCipher(secret)
	crypt.Zero(secret[:])
	if err != nil {
		return nil, err
	}

	version, err := migrate.New(eng, TableMisc, migrationChain(cipher)).Run()
	if err != nil {
		cipher.Zero()
		return nil, err
	}

	s := &Store{
		eng:    eng,
		cipher: cipher,
		cache: cache.New(map[string]int{
			string(TableTimeline): timelineCacheCap,
		}),
		instanceID: instanceID,
		version:    version,
	}
	log.Infof("Store %s open at schema version %d", instanceID, version)
	return s, nil
}

// Close flushes the store and scrubs the key material from memory. Any
// operation after Close fails with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.cipher.Zero()
	return s.eng.Close()
}

// InstanceID returns the random ID assigned when the store was created.
func (s *Store) InstanceID() string {
	return s.instanceID
}

// SchemaVersion returns the on-disk layout version the store opened at.
func (s *Store) SchemaVersion() int {
	return s.version
}

// ChangePassphrase rewraps the master secret under a new passphrase. It
// does not protect against a previous compromise of the database file;
// see the package documentation.
func (s *Store) ChangePassphrase(pass []byte) error {
	secret := s.cipher.Secret()
	defer crypt.Zero(secret[:])

	salt, wrapped, err := crypt.WrapSecret(pass, secret)
	if err != nil {
		return err
	}
	return s.update(func(tx kv.Tx) error {
		if err := tx.Put(TableMisc, saltKey, salt); err != nil {
			return err
		}
		return tx.Put(TableMisc, wrappedSecretKey, wrapped)
	})
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// view runs fn in a read-only transaction over a consistent snapshot.
func (s *Store) view(fn func(kv.Tx) error) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	return kv.View(s.eng, fn)
}

// update runs fn in a writable transaction. On a conflict or commit
// failure the transaction is rebuilt from fresh reads and retried up to
// maxTxRetries times; fn must therefore re-read everything it depends
// on and never carry state between attempts.
func (s *Store) update(fn func(kv.Tx) error) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = kv.Update(s.eng, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrConflict) && !errors.Is(err, kv.ErrCommitFailed) {
			return err
		}
		if attempt >= maxTxRetries {
			return err
		}
		log.Debugf("Transaction attempt %d failed, retrying: %v", attempt, err)
	}
}

// sealRecord serializes v and encrypts it bound to (table, key)
// according to the table's policy.
func (s *Store) sealRecord(table kv.TableName, key []byte, v interface{}) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}
	pol := crypt.PolicyFor(string(table))
	if pol == nil {
		return nil, errors.Errorf("table %s has no at-rest policy", table)
	}
	if !pol.EncryptBody {
		return plain, nil
	}
	return s.cipher.Seal(plain, crypt.Context{Table: string(table), Key: key})
}

// openRecord decrypts and deserializes a blob stored under (table,
// key) into out.
func (s *Store) openRecord(table kv.TableName, key, blob []byte, out interface{}) error {
	pol := crypt.PolicyFor(string(table))
	if pol == nil {
		return errors.Errorf("table %s has no at-rest policy", table)
	}
	plain := blob
	if pol.EncryptBody {
		var err error
		plain, err = s.cipher.Open(blob, crypt.Context{Table: string(table), Key: key})
		if err != nil {
			return err
		}
	}
	if err := json.Unmarshal(plain, out); err != nil {
		// A record that decrypts but does not parse is as unusable as
		// one that fails its tag.
		return errors.WithMessage(ErrIntegrity, err.Error())
	}
	return nil
}

// Key builders. Identifiers enter keys only as keyed hashes; positions
// are plaintext big-endian so byte order matches timeline order.

func (s *Store) roomKey(roomID RoomID) []byte {
	return s.cipher.IndexHash(string(roomID))
}

func (s *Store) timelineKey(roomHash []byte, pos Position) []byte {
	k := make([]byte, 0, len(roomHash)+8)
	k = append(k, roomHash...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(pos))
	return append(k, b[:]...)
}

func (s *Store) sessionKey(scopeHash []byte, sessionID string) []byte {
	k := make([]byte, 0, len(scopeHash)+crypt.IndexHashSize)
	k = append(k, scopeHash...)
	return append(k, s.cipher.IndexHash(sessionID)...)
}

func (s *Store) deviceKey(userHash []byte, deviceID DeviceID) []byte {
	k := make([]byte, 0, len(userHash)+crypt.IndexHashSize)
	k = append(k, userHash...)
	return append(k, s.cipher.IndexHash(string(deviceID))...)
}

func lastPosKey(roomHash []byte) []byte {
	k := make([]byte, 0, len(lastPosPrefix)+len(roomHash))
	k = append(k, lastPosPrefix...)
	return append(k, roomHash...)
}

// readLastPos returns the latest assigned timeline position for a
// room, 0 if the room has no events.
func readLastPos(tx kv.Tx, roomHash []byte) (Position, error) {
	v, err := tx.Get(TableMisc, lastPosKey(roomHash))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.WithMessage(ErrIntegrity, "malformed position counter")
	}
	return Position(binary.BigEndian.Uint64(v)), nil
}

func writeLastPos(tx kv.Tx, roomHash []byte, pos Position) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(pos))
	return tx.Put(TableMisc, lastPosKey(roomHash), v)
}
