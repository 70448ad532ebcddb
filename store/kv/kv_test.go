// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kv_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/kv"
	"github.com/conclave-im/conclave/store/mem"
)

var testTables = []kv.TableName{"alpha", "beta"}

// engines runs a test against every kv.Engine implementation.
func engines(t *testing.T, test func(t *testing.T, eng kv.Engine)) {
	t.Helper()

	t.Run("bolt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.db")
		eng, err := kv.OpenBolt(path)
		if err != nil {
			t.Fatal("Failed to open bolt engine:", err)
		}
		defer eng.Close()
		if err := eng.CreateTables(testTables...); err != nil {
			t.Fatal(err)
		}
		test(t, eng)
	})

	t.Run("mem", func(t *testing.T) {
		test(t, mem.New(testTables...))
	})
}

func TestPutGetDelete(t *testing.T) {
	engines(t, func(t *testing.T, eng kv.Engine) {
		err := kv.Update(eng, func(tx kv.Tx) error {
			return tx.Put("alpha", []byte("k1"), []byte("v1"))
		})
		if err != nil {
			t.Fatal(err)
		}

		err = kv.View(eng, func(tx kv.Tx) error {
			v, err := tx.Get("alpha", []byte("k1"))
			if err != nil {
				return err
			}
			if !bytes.Equal(v, []byte("v1")) {
				t.Errorf("Expected v1 got %q", v)
			}
			if _, err := tx.Get("alpha", []byte("absent")); !errors.Is(err, kv.ErrNotFound) {
				t.Errorf("Expected ErrNotFound got %v", err)
			}
			if _, err := tx.Get("nosuch", []byte("k1")); !errors.Is(err, kv.ErrNoTable) {
				t.Errorf("Expected ErrNoTable got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		err = kv.Update(eng, func(tx kv.Tx) error {
			return tx.Delete("alpha", []byte("k1"))
		})
		if err != nil {
			t.Fatal(err)
		}
		kv.View(eng, func(tx kv.Tx) error {
			if _, err := tx.Get("alpha", []byte("k1")); !errors.Is(err, kv.ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete got %v", err)
			}
			return nil
		})
	})
}

func TestPrefixScanOrder(t *testing.T) {
	engines(t, func(t *testing.T, eng kv.Engine) {
		err := kv.Update(eng, func(tx kv.Tx) error {
			puts := map[string]string{
				"room1\x00\x02": "b",
				"room1\x00\x01": "a",
				"room1\x00\x03": "c",
				"room2\x00\x01": "other",
			}
			for k, v := range puts {
				if err := tx.Put("alpha", []byte(k), []byte(v)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		var got []string
		err = kv.View(eng, func(tx kv.Tx) error {
			return tx.ForEach("alpha", []byte("room1\x00"), func(k, v []byte) error {
				got = append(got, string(v))
				return nil
			})
		})
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"a", "b", "c"}
		if len(got) != len(want) {
			t.Fatalf("Expected %d results got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Position %d: expected %s got %s", i, want[i], got[i])
			}
		}

		// ErrStop ends iteration without error.
		count := 0
		err = kv.View(eng, func(tx kv.Tx) error {
			return tx.ForEach("alpha", nil, func(k, v []byte) error {
				count++
				return kv.ErrStop
			})
		})
		if err != nil {
			t.Fatal("ErrStop surfaced as error:", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 visit got %d", count)
		}
	})
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	engines(t, func(t *testing.T, eng kv.Engine) {
		kv.View(eng, func(tx kv.Tx) error {
			if err := tx.Put("alpha", []byte("k"), []byte("v")); !errors.Is(err, kv.ErrReadOnly) {
				t.Errorf("Put: expected ErrReadOnly got %v", err)
			}
			if err := tx.Delete("alpha", []byte("k")); !errors.Is(err, kv.ErrReadOnly) {
				t.Errorf("Delete: expected ErrReadOnly got %v", err)
			}
			if err := tx.Clear("alpha"); !errors.Is(err, kv.ErrReadOnly) {
				t.Errorf("Clear: expected ErrReadOnly got %v", err)
			}
			return nil
		})
	})
}

func TestRollbackDiscardsMultiTable(t *testing.T) {
	engines(t, func(t *testing.T, eng kv.Engine) {
		err := kv.Update(eng, func(tx kv.Tx) error {
			return tx.Put("alpha", []byte("keep"), []byte("1"))
		})
		if err != nil {
			t.Fatal(err)
		}

		tx, err := eng.Begin(true)
		if err != nil {
			t.Fatal(err)
		}
		tx.Put("alpha", []byte("drop1"), []byte("x"))
		tx.Put("beta", []byte("drop2"), []byte("y"))
		tx.Delete("alpha", []byte("keep"))
		if err := tx.Rollback(); err != nil {
			t.Fatal(err)
		}

		kv.View(eng, func(tx kv.Tx) error {
			if _, err := tx.Get("alpha", []byte("keep")); err != nil {
				t.Error("Pre-transaction record lost:", err)
			}
			if _, err := tx.Get("alpha", []byte("drop1")); !errors.Is(err, kv.ErrNotFound) {
				t.Error("Rolled back write visible in alpha")
			}
			if _, err := tx.Get("beta", []byte("drop2")); !errors.Is(err, kv.ErrNotFound) {
				t.Error("Rolled back write visible in beta")
			}
			return nil
		})
	})
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	engines(t, func(t *testing.T, eng kv.Engine) {
		// A read snapshot taken before a write commits must not see it.
		reader, err := eng.Begin(false)
		if err != nil {
			t.Fatal(err)
		}
		defer reader.Rollback()

		err = kv.Update(eng, func(tx kv.Tx) error {
			return tx.Put("alpha", []byte("new"), []byte("v"))
		})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := reader.Get("alpha", []byte("new")); !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("Snapshot saw a later commit: %v", err)
		}
	})
}

func TestClear(t *testing.T) {
	engines(t, func(t *testing.T, eng kv.Engine) {
		kv.Update(eng, func(tx kv.Tx) error {
			tx.Put("alpha", []byte("a"), []byte("1"))
			tx.Put("beta", []byte("b"), []byte("2"))
			return nil
		})
		err := kv.Update(eng, func(tx kv.Tx) error {
			return tx.Clear("alpha")
		})
		if err != nil {
			t.Fatal(err)
		}
		kv.View(eng, func(tx kv.Tx) error {
			if _, err := tx.Get("alpha", []byte("a")); !errors.Is(err, kv.ErrNotFound) {
				t.Error("Cleared table still has records")
			}
			if _, err := tx.Get("beta", []byte("b")); err != nil {
				t.Error("Clear leaked into another table:", err)
			}
			return nil
		})
	})
}

func TestBoltAtomicityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomic.db")
	eng, err := kv.OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.CreateTables(testTables...); err != nil {
		t.Fatal(err)
	}
	err = kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("alpha", []byte("committed"), []byte("1"))
	})
	if err != nil {
		t.Fatal(err)
	}

	// An abandoned transaction's writes must not survive a reopen.
	tx, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	tx.Put("alpha", []byte("torn"), []byte("x"))
	tx.Put("beta", []byte("torn"), []byte("y"))
	tx.Rollback()
	if err := eng.Close(); err != nil {
		t.Fatal(err)
	}

	eng, err = kv.OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()
	kv.View(eng, func(tx kv.Tx) error {
		if _, err := tx.Get("alpha", []byte("committed")); err != nil {
			t.Error("Committed record lost across reopen:", err)
		}
		for _, table := range testTables {
			if _, err := tx.Get(table, []byte("torn")); !errors.Is(err, kv.ErrNotFound) {
				t.Errorf("Uncommitted write surfaced in %s after reopen", table)
			}
		}
		return nil
	})

	_ = os.Remove(path)
}
