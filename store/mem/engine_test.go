// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mem_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/conclave-im/conclave/store/kv"
	"github.com/conclave-im/conclave/store/mem"
)

func TestFirstCommitterWins(t *testing.T) {
	eng := mem.New("t")
	err := kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("t", []byte("k"), []byte("base"))
	})
	if err != nil {
		t.Fatal(err)
	}

	txA, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	txB, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}

	if err := txA.Put("t", []byte("k"), []byte("A")); err != nil {
		t.Fatal(err)
	}
	if err := txB.Put("t", []byte("k"), []byte("B")); err != nil {
		t.Fatal(err)
	}

	if err := txA.Commit(); err != nil {
		t.Fatal("First committer should win:", err)
	}
	if err := txB.Commit(); !errors.Is(err, kv.ErrConflict) {
		t.Errorf("Second committer: expected ErrConflict got %v", err)
	}

	// The loser's write must not have landed.
	kv.View(eng, func(tx kv.Tx) error {
		v, err := tx.Get("t", []byte("k"))
		if err != nil {
			return err
		}
		if string(v) != "A" {
			t.Errorf("Expected A got %s", v)
		}
		return nil
	})
}

// TestDeleteThenConcurrentPutConflicts verifies that a deletion is an
// overlap like any other write: a transaction snapshotted before the
// delete committed cannot resurrect the key.
func TestDeleteThenConcurrentPutConflicts(t *testing.T) {
	eng := mem.New("t")
	err := kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("t", []byte("k"), []byte("base"))
	})
	if err != nil {
		t.Fatal(err)
	}

	txA, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	txB, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := txA.Delete("t", []byte("k")); err != nil {
		t.Fatal(err)
	}
	if err := txB.Put("t", []byte("k"), []byte("B")); err != nil {
		t.Fatal(err)
	}

	if err := txA.Commit(); err != nil {
		t.Fatal("First committer should win:", err)
	}
	if err := txB.Commit(); !errors.Is(err, kv.ErrConflict) {
		t.Errorf("Put over a concurrent delete: expected ErrConflict got %v", err)
	}

	kv.View(eng, func(tx kv.Tx) error {
		if _, err := tx.Get("t", []byte("k")); !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("Deleted key resurrected: %v", err)
		}
		return nil
	})
}

func TestClearThenConcurrentPutConflicts(t *testing.T) {
	eng := mem.New("t")

	txA, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	txB, err := eng.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := txA.Clear("t"); err != nil {
		t.Fatal(err)
	}
	if err := txB.Put("t", []byte("new"), []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := txA.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := txB.Commit(); !errors.Is(err, kv.ErrConflict) {
		t.Errorf("Put over a concurrent clear: expected ErrConflict got %v", err)
	}
}

func TestDisjointWritersDoNotConflict(t *testing.T) {
	eng := mem.New("t")

	txA, _ := eng.Begin(true)
	txB, _ := eng.Begin(true)
	txA.Put("t", []byte("a"), []byte("1"))
	txB.Put("t", []byte("b"), []byte("2"))

	if err := txA.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := txB.Commit(); err != nil {
		t.Fatal("Disjoint writers must both commit:", err)
	}
}

func TestFailNextCommitAtomicity(t *testing.T) {
	eng := mem.New("t", "u")
	err := kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("t", []byte("k"), []byte("before"))
	})
	if err != nil {
		t.Fatal(err)
	}

	eng.FailNextCommit()
	err = kv.Update(eng, func(tx kv.Tx) error {
		tx.Put("t", []byte("k"), []byte("after"))
		tx.Put("u", []byte("k2"), []byte("new"))
		return nil
	})
	if !errors.Is(err, kv.ErrCommitFailed) {
		t.Fatalf("Expected ErrCommitFailed got %v", err)
	}

	// Every table the transaction touched must be in its pre-transaction
	// state.
	kv.View(eng, func(tx kv.Tx) error {
		v, err := tx.Get("t", []byte("k"))
		if err != nil {
			return err
		}
		if string(v) != "before" {
			t.Errorf("Expected before got %s", v)
		}
		if _, err := tx.Get("u", []byte("k2")); !errors.Is(err, kv.ErrNotFound) {
			t.Error("Failed commit leaked a write into table u")
		}
		return nil
	})

	// The failure is one-shot.
	err = kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("t", []byte("k"), []byte("after"))
	})
	if err != nil {
		t.Fatal("Commit after simulated failure should succeed:", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	eng := mem.New("t")
	kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("t", []byte("k"), []byte("v1"))
	})

	reader, err := eng.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Rollback()

	kv.Update(eng, func(tx kv.Tx) error {
		return tx.Put("t", []byte("k"), []byte("v2"))
	})

	v, err := reader.Get("t", []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v1" {
		t.Errorf("Snapshot read expected v1 got %s", v)
	}
}

func TestClearThenPut(t *testing.T) {
	eng := mem.New("t")
	kv.Update(eng, func(tx kv.Tx) error {
		tx.Put("t", []byte("old"), []byte("1"))
		return nil
	})

	err := kv.Update(eng, func(tx kv.Tx) error {
		if err := tx.Clear("t"); err != nil {
			return err
		}
		return tx.Put("t", []byte("new"), []byte("2"))
	})
	if err != nil {
		t.Fatal(err)
	}

	kv.View(eng, func(tx kv.Tx) error {
		if _, err := tx.Get("t", []byte("old")); !errors.Is(err, kv.ErrNotFound) {
			t.Error("Cleared record still present")
		}
		if _, err := tx.Get("t", []byte("new")); err != nil {
			t.Error("Post-clear write missing:", err)
		}
		return nil
	})
}
