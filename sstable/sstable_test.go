package sstable

import (
	"os"
	"testing"

	"github.com/vela-db/vela/codec"
)

func testSchema() *codec.Schema {
	return &codec.Schema{
		KeyType:       codec.LongType(),
		ValueType:     codec.NewVarcharType("", nil),
		TombstoneType: codec.BoolType(),
	}
}

func recordsForKeys(keys []int64, value string) []codec.Record {
	out := make([]codec.Record, len(keys))
	for i, k := range keys {
		out[i] = codec.Record{Key: k, Value: value}
	}
	return out
}

func TestWriteFindRoundTrip(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()

	keys := make([]int64, 0, 200)
	for i := int64(0); i < 200; i++ {
		keys = append(keys, i)
	}
	records := recordsForKeys(keys, "v1")

	run, err := Write(dir, 1, schema, FromSlice(records), false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, k := range []int64{0, 1, 49, 50, 51, 150, 199} {
		rec, ok, err := run.Find(k)
		if err != nil {
			t.Fatalf("Find(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("Find(%d): expected to find key", k)
		}
		if rec.Value != "v1" {
			t.Fatalf("Find(%d): got value %v, want v1", k, rec.Value)
		}
	}
}

func TestFindMissingKeyReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	run, err := Write(dir, 1, schema, FromSlice(recordsForKeys([]int64{10, 20, 30}, "v")), false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, ok, err := run.Find(int64(999)); err != nil || ok {
		t.Fatalf("Find(999): got ok=%v err=%v, want not found", ok, err)
	}
	if _, ok, err := run.Find(int64(5)); err != nil || ok {
		t.Fatalf("Find(5): got ok=%v err=%v, want not found (before first key)", ok, err)
	}
}

func TestSparseIndexFirstKeyMatchesBlockFirstKey(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	keys := make([]int64, 0, 3*BlockSize)
	for i := 0; i < 3*BlockSize; i++ {
		keys = append(keys, int64(i))
	}
	run, err := Write(dir, 1, schema, FromSlice(recordsForKeys(keys, "v")), false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	for i, entry := range run.index {
		records, err := run.readBlock(i)
		if err != nil {
			t.Fatalf("readBlock(%d): %v", i, err)
		}
		if len(records) == 0 {
			t.Fatalf("block %d is empty", i)
		}
		if records[0].Key != entry.key {
			t.Fatalf("block %d: sparse index key %v != block's first decoded key %v", i, entry.key, records[0].Key)
		}
	}
}

func TestCommitRenamesTempFiles(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	run, err := Write(dir, 1, schema, FromSlice(recordsForKeys([]int64{1, 2, 3}, "v")), true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(TablePath(dir, 1, true)); err != nil {
		t.Fatalf("expected temp table file to exist: %v", err)
	}

	if err := run.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(TablePath(dir, 1, false)); err != nil {
		t.Fatalf("expected committed table file to exist: %v", err)
	}
	if _, err := os.Stat(TablePath(dir, 1, true)); !os.IsNotExist(err) {
		t.Fatalf("expected temp table file to be gone after commit")
	}

	if err := run.Commit(); err == nil {
		t.Fatalf("expected second Commit on a non-temp run to fail")
	}
}

func TestEmptyMemtableFlushProducesEmptyRun(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	run, err := Write(dir, 1, schema, FromSlice(nil), false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(run.index) != 0 {
		t.Fatalf("expected empty index, got %d entries", len(run.index))
	}
	if _, ok, err := run.Find(int64(0)); err != nil || ok {
		t.Fatalf("Find on empty run: got ok=%v err=%v", ok, err)
	}
}

func TestScanYieldsAllRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	keys := make([]int64, 0, 120)
	for i := int64(0); i < 120; i++ {
		keys = append(keys, i)
	}
	run, err := Write(dir, 1, schema, FromSlice(recordsForKeys(keys, "v")), false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	cur, err := run.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer cur.Close()

	var got []int64
	for {
		rec, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec.Key.(int64))
	}
	if len(got) != len(keys) {
		t.Fatalf("got %d records, want %d", len(got), len(keys))
	}
	for i := range got {
		if got[i] != keys[i] {
			t.Fatalf("record %d: got key %d, want %d", i, got[i], keys[i])
		}
	}
}

func TestOpenReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	_, err := Write(dir, 1, schema, FromSlice(recordsForKeys([]int64{1, 2, 3}, "v")), false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	run, err := Open(dir, 1, schema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec, ok, err := run.Find(int64(2))
	if err != nil || !ok {
		t.Fatalf("Find(2) after reopen: ok=%v err=%v", ok, err)
	}
	if rec.Value != "v" {
		t.Fatalf("Find(2) after reopen: got %v, want v", rec.Value)
	}
}
