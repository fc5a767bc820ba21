package vela

import (
	"testing"

	"github.com/vela-db/vela/codec"
)

func longVarcharSchema(table string) *codec.Schema {
	return &codec.Schema{
		TableName:     table,
		KeyType:       codec.LongType(),
		ValueType:     codec.NewVarcharType("", nil),
		TombstoneType: codec.BoolType(),
	}
}

func openTestDB(t *testing.T, table string) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), Options{Schema: longVarcharSchema(table)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return db
}

// spec.md §8 scenario 1: overwrite across flush.
func TestOverwriteAcrossFlush(t *testing.T) {
	db := openTestDB(t, "overwrite")

	if err := db.Put(int64(1), "a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Put(int64(1), "b"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := db.Get(int64(1))
	if err != nil || !ok || v != "b" {
		t.Fatalf("Get(1) before second flush: v=%v ok=%v err=%v, want \"b\"", v, ok, err)
	}

	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	v, ok, err = db.Get(int64(1))
	if err != nil || !ok || v != "b" {
		t.Fatalf("Get(1) after second flush: v=%v ok=%v err=%v, want \"b\"", v, ok, err)
	}
}

// spec.md §8 scenario 2: tombstone shadows older value, surviving
// across a flush that persists the tombstone itself.
func TestTombstoneShadowsOlder(t *testing.T) {
	db := openTestDB(t, "tombstone")

	if err := db.Put(int64(1), "a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Delete(int64(1)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	_, ok, err := db.Get(int64(1))
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if ok {
		t.Fatalf("Get(1) after delete+flush: expected not found")
	}
}

// spec.md §8 scenario 3: compacting two disjoint runs yields every key
// exactly once, in ascending order, with each run's own value intact.
func TestCompactionDeterminism(t *testing.T) {
	db := openTestDB(t, "determinism")

	for k := int64(0); k < 10; k++ {
		if err := db.Put(k, "v1"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for k := int64(10); k < 20; k++ {
		if err := db.Put(k, "v2"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(db.Runs()) != 2 {
		t.Fatalf("expected 2 runs before compaction, got %d", len(db.Runs()))
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(db.Runs()) != 1 {
		t.Fatalf("expected 1 run after compaction, got %d", len(db.Runs()))
	}

	for k := int64(0); k < 10; k++ {
		v, ok, err := db.Get(k)
		if err != nil || !ok || v != "v1" {
			t.Fatalf("Get(%d): v=%v ok=%v err=%v, want \"v1\"", k, v, ok, err)
		}
	}
	for k := int64(10); k < 20; k++ {
		v, ok, err := db.Get(k)
		if err != nil || !ok || v != "v2" {
			t.Fatalf("Get(%d): v=%v ok=%v err=%v, want \"v2\"", k, v, ok, err)
		}
	}

	cur, err := db.Runs()[0].Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer cur.Close()
	var prev int64 = -1
	count := 0
	for {
		rec, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		key := rec.Key.(int64)
		if key <= prev {
			t.Fatalf("compacted run out of order: %d after %d", key, prev)
		}
		prev = key
		count++
	}
	if count != 20 {
		t.Fatalf("compacted run has %d records, want 20", count)
	}
}

// spec.md §8 scenario 4: a tombstone in one run masks keys from
// another run during compaction, and does not itself survive.
func TestCompactionWithTombstone(t *testing.T) {
	db := openTestDB(t, "tombstone-compaction")

	for k := int64(20); k < 30; k++ {
		if err := db.Put(k, "v1"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for k := int64(0); k < 10; k++ {
		if err := db.Delete(k); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	for k := int64(20); k < 30; k++ {
		v, ok, err := db.Get(k)
		if err != nil || !ok || v != "v1" {
			t.Fatalf("Get(%d): v=%v ok=%v err=%v, want \"v1\"", k, v, ok, err)
		}
	}
	for k := int64(0); k < 10; k++ {
		_, ok, err := db.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if ok {
			t.Fatalf("Get(%d): expected tombstoned key to stay absent after compaction", k)
		}
	}

	cur, err := db.Runs()[0].Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer cur.Close()
	count := 0
	for {
		_, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 10 {
		t.Fatalf("compacted run has %d records, want 10", count)
	}
}

func TestDeleteAbsentKeyMasksFutureOnDiskVersion(t *testing.T) {
	db := openTestDB(t, "delete-absent")

	if err := db.Delete(int64(42)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := db.Get(int64(42))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("Get(42) after deleting an absent key: expected not found")
	}
}

func TestReopenReloadsRunsAndSchema(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{Schema: longVarcharSchema("reopen")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put(int64(7), "persisted"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get(int64(7))
	if err != nil || !ok || v != "persisted" {
		t.Fatalf("Get(7) after reopen: v=%v ok=%v err=%v, want \"persisted\"", v, ok, err)
	}
}
