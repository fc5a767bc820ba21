// Package sstable implements the sorted run (spec.md §4.3): an
// immutable, serial-stamped pair of files under a table directory —
// `<serial>.sst` holding compressed blocks of encoded records and
// `<serial>.spx` holding a sparse index of (first_key, byte_offset)
// pairs, one per block. Grounded on
// original_source/anura/sstable.py's SSTable (write/find/seq_scan,
// the bisect-based "largest first_key <= target" search, and the
// tmp-suffix commit) translated from gzip to
// github.com/golang/snappy block compression, and on guycipher-k4's
// cuckoofilter package for the in-memory existence pre-check.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/snappy"
	"github.com/vela-db/vela/codec"
	"github.com/vela-db/vela/cuckoofilter"
	"github.com/vela-db/vela/errs"
)

// BlockSize is the number of records grouped into one compressed block
// before the sparse index gains a new entry, matching
// original_source/anura/constants.py's BLOCK_SIZE.
const BlockSize = 50

const (
	tableExt = "sst"
	indexExt = "spx"
	tmpExt   = ".tmp"
)

// TablePath and IndexPath return the on-disk paths for a run's two
// files (spec.md §6's on-disk layout), with the ".tmp" suffix applied
// to both when temp is true.
func TablePath(dir string, serial int64, temp bool) string {
	return filepath.Join(dir, fmt.Sprintf("%d.%s%s", serial, tableExt, tmpSuffix(temp)))
}

func IndexPath(dir string, serial int64, temp bool) string {
	return filepath.Join(dir, fmt.Sprintf("%d.%s%s", serial, indexExt, tmpSuffix(temp)))
}

func tmpSuffix(temp bool) string {
	if temp {
		return tmpExt
	}
	return ""
}

type indexEntry struct {
	key    any
	offset int64
}

// RecordIterator yields records in ascending key order, matching the
// in-order iteration memtable.Tree.Iter and the compaction package's
// merged stream both produce. It is finite and not restartable: a Run
// consumes one completely and does not retain it.
type RecordIterator interface {
	Next() (codec.Record, bool, error)
}

// sliceIterator adapts a pre-sorted slice (e.g. memtable.Tree.Iter's
// output) to RecordIterator.
type sliceIterator struct {
	records []codec.Record
	pos     int
}

// FromSlice wraps an already key-ordered slice of records as a
// RecordIterator, for callers that already have them in memory (the
// mem-table flush path).
func FromSlice(records []codec.Record) RecordIterator {
	return &sliceIterator{records: records}
}

func (s *sliceIterator) Next() (codec.Record, bool, error) {
	if s.pos >= len(s.records) {
		return codec.Record{}, false, nil
	}
	r := s.records[s.pos]
	s.pos++
	return r, true, nil
}

// Run is a sorted run: C3 of spec.md §4.3. It holds its sparse index
// and an in-memory cuckoo filter in full (built during Write, or
// rebuilt by Open with one scan of the table file), so Find rarely
// touches disk more than once.
type Run struct {
	Dir    string
	Serial int64
	Schema *codec.Schema
	Temp   bool

	index  []indexEntry
	filter *cuckoofilter.CuckooFilter
}

// Write consumes it and performs the streaming block construction of
// spec.md §4.3: group into blocks of BlockSize, record the sparse-index
// entry for each block's first key, encode+compress the block, and
// append it to the table file; then write the sparse index file.
//
// Per spec.md §4.3's atomicity policy, temp selects whether both files
// are written under a ".tmp" suffix (compaction's contract — the
// caller must later call Commit) or directly under their final names
// (flush's contract, safe because the caller holds the table's
// exclusive lock for the whole operation).
func Write(dir string, serial int64, schema *codec.Schema, it RecordIterator, temp bool) (*Run, error) {
	tablePath := TablePath(dir, serial, temp)
	indexPath := IndexPath(dir, serial, temp)

	tableFile, err := os.Create(tablePath)
	if err != nil {
		return nil, fmt.Errorf("%w: creating table file: %v", errs.ErrIOError, err)
	}
	defer tableFile.Close()

	run := &Run{Dir: dir, Serial: serial, Schema: schema, Temp: temp, filter: cuckoofilter.NewCuckooFilter()}

	var offset int64
	block := make([]codec.Record, 0, BlockSize)
	flushBlock := func() error {
		if len(block) == 0 {
			return nil
		}
		blockIndex := int64(len(run.index))
		run.index = append(run.index, indexEntry{key: block[0].Key, offset: offset})

		var payload []byte
		for _, r := range block {
			encoded, err := codec.EncodeRecord(r, schema)
			if err != nil {
				return fmt.Errorf("encoding record: %w", err)
			}
			payload = append(payload, encoded...)

			keyBytes, err := codec.Encode(r.Key, schema.KeyType)
			if err != nil {
				return fmt.Errorf("encoding key for filter: %w", err)
			}
			run.filter.Insert(blockIndex, keyBytes)
		}

		compressed := snappy.Encode(nil, payload)
		n, err := tableFile.Write(compressed)
		if err != nil {
			return fmt.Errorf("%w: writing block: %v", errs.ErrIOError, err)
		}
		offset += int64(n)
		block = block[:0]
		return nil
	}

	for {
		r, ok, err := it.Next()
		if err != nil {
			os.Remove(tablePath)
			return nil, fmt.Errorf("reading source record: %w", err)
		}
		if !ok {
			break
		}
		block = append(block, r)
		if len(block) == BlockSize {
			if err := flushBlock(); err != nil {
				os.Remove(tablePath)
				return nil, err
			}
		}
	}
	if err := flushBlock(); err != nil {
		os.Remove(tablePath)
		return nil, err
	}

	if err := tableFile.Sync(); err != nil {
		return nil, fmt.Errorf("%w: syncing table file: %v", errs.ErrIOError, err)
	}

	if err := writeIndex(indexPath, run.index, schema); err != nil {
		os.Remove(tablePath)
		return nil, err
	}

	return run, nil
}

func writeIndex(path string, index []indexEntry, schema *codec.Schema) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating index file: %v", errs.ErrIOError, err)
	}
	defer f.Close()

	offsetType := codec.LongType()
	for _, e := range index {
		keyBytes, err := codec.Encode(e.key, schema.KeyType)
		if err != nil {
			return fmt.Errorf("encoding index key: %w", err)
		}
		offsetBytes, err := codec.Encode(e.offset, offsetType)
		if err != nil {
			return fmt.Errorf("encoding index offset: %w", err)
		}
		if _, err := f.Write(keyBytes); err != nil {
			return fmt.Errorf("%w: writing index: %v", errs.ErrIOError, err)
		}
		if _, err := f.Write(offsetBytes); err != nil {
			return fmt.Errorf("%w: writing index: %v", errs.ErrIOError, err)
		}
	}
	return f.Sync()
}

// Open reloads a previously written, non-temporary run from dir: it
// reads the sparse index fully into memory and rebuilds the existence
// filter with one sequential scan of the table file. A run still held
// from Write need not be reopened.
func Open(dir string, serial int64, schema *codec.Schema) (*Run, error) {
	index, err := readIndex(IndexPath(dir, serial, false), schema)
	if err != nil {
		return nil, err
	}

	run := &Run{Dir: dir, Serial: serial, Schema: schema, index: index, filter: cuckoofilter.NewCuckooFilter()}
	if err := run.rebuildFilter(); err != nil {
		return nil, err
	}
	return run, nil
}

func readIndex(path string, schema *codec.Schema) ([]indexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading index file: %v", errs.ErrIOError, err)
	}

	offsetType := codec.LongType()
	var index []indexEntry
	for len(data) > 0 {
		key, n1, err := codec.Decode(data, schema.KeyType)
		if err != nil {
			return nil, fmt.Errorf("decoding index key: %w", err)
		}
		offsetAny, n2, err := codec.Decode(data[n1:], offsetType)
		if err != nil {
			return nil, fmt.Errorf("decoding index offset: %w", err)
		}
		index = append(index, indexEntry{key: key, offset: offsetAny.(int64)})
		data = data[n1+n2:]
	}
	return index, nil
}

func (r *Run) rebuildFilter() error {
	c, err := r.Scan()
	if err != nil {
		return err
	}
	defer c.Close()

	for {
		rec, blockIndex, ok, err := c.nextWithBlock()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keyBytes, err := codec.Encode(rec.Key, r.Schema.KeyType)
		if err != nil {
			return fmt.Errorf("encoding key for filter: %w", err)
		}
		r.filter.Insert(int64(blockIndex), keyBytes)
	}
	return nil
}

// Find performs the two-step search of spec.md §4.3: an existence
// pre-check via the cuckoo filter (when available) to skip both the
// sparse-index probe and the block read for a key that was never
// written to this run, then a sparse-index binary search for the
// largest first_key <= k, then a binary search within the decoded
// block for the exact key.
func (r *Run) Find(key any) (codec.Record, bool, error) {
	var hintBlock = -1
	if r.filter != nil {
		keyBytes, err := codec.Encode(key, r.Schema.KeyType)
		if err != nil {
			return codec.Record{}, false, fmt.Errorf("encoding probe key: %w", err)
		}
		blockIndex, maybePresent := r.filter.Lookup(keyBytes)
		if !maybePresent {
			return codec.Record{}, false, nil
		}
		hintBlock = int(blockIndex)
	}

	i := hintBlock
	if i < 0 || i >= len(r.index) || codec.CompareKeys(r.index[i].key, key) > 0 {
		i = r.searchIndex(key)
		if i < 0 {
			return codec.Record{}, false, nil
		}
	}

	records, err := r.readBlock(i)
	if err != nil {
		return codec.Record{}, false, err
	}

	j := sort.Search(len(records), func(j int) bool {
		return codec.CompareKeys(records[j].Key, key) >= 0
	})
	if j < len(records) && codec.CompareKeys(records[j].Key, key) == 0 {
		return records[j], true, nil
	}
	return codec.Record{}, false, nil
}

// searchIndex returns the index of the largest entry with
// first_key <= key, or -1 if every entry's key is greater.
func (r *Run) searchIndex(key any) int {
	i := sort.Search(len(r.index), func(i int) bool {
		return codec.CompareKeys(r.index[i].key, key) > 0
	})
	return i - 1
}

func (r *Run) blockByteRange(i int) (offset int64, length int64, err error) {
	offset = r.index[i].offset
	if i+1 < len(r.index) {
		return offset, r.index[i+1].offset - offset, nil
	}
	info, statErr := os.Stat(TablePath(r.Dir, r.Serial, r.Temp))
	if statErr != nil {
		return 0, 0, fmt.Errorf("%w: stat table file: %v", errs.ErrIOError, statErr)
	}
	return offset, info.Size() - offset, nil
}

func (r *Run) readBlock(i int) ([]codec.Record, error) {
	offset, length, err := r.blockByteRange(i)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(TablePath(r.Dir, r.Serial, r.Temp))
	if err != nil {
		return nil, fmt.Errorf("%w: opening table file: %v", errs.ErrIOError, err)
	}
	defer f.Close()

	compressed := make([]byte, length)
	if _, err := f.ReadAt(compressed, offset); err != nil {
		return nil, fmt.Errorf("%w: reading block: %v", errs.ErrIOError, err)
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing block: %v", errs.ErrIOError, err)
	}

	var records []codec.Record
	for len(payload) > 0 {
		rec, n, err := codec.DecodeRecord(payload, r.Schema)
		if err != nil {
			return nil, fmt.Errorf("decoding block record: %w", err)
		}
		records = append(records, rec)
		payload = payload[n:]
	}
	return records, nil
}

// Commit renames a temporary run's two files into their final,
// non-temporary names (spec.md §4.3's atomicity policy for
// compaction-produced runs).
func (r *Run) Commit() error {
	if !r.Temp {
		return fmt.Errorf("%w: Commit called on a non-temporary run", errs.ErrInvalidState)
	}
	if err := os.Rename(TablePath(r.Dir, r.Serial, true), TablePath(r.Dir, r.Serial, false)); err != nil {
		return fmt.Errorf("%w: renaming table file: %v", errs.ErrIOError, err)
	}
	if err := os.Rename(IndexPath(r.Dir, r.Serial, true), IndexPath(r.Dir, r.Serial, false)); err != nil {
		return fmt.Errorf("%w: renaming index file: %v", errs.ErrIOError, err)
	}
	r.Temp = false
	return nil
}

// Delete unlinks both of the run's files. Per spec.md §4.3, after
// Delete the run must not be referenced by the coordinator.
func (r *Run) Delete() error {
	err1 := os.Remove(TablePath(r.Dir, r.Serial, r.Temp))
	err2 := os.Remove(IndexPath(r.Dir, r.Serial, r.Temp))
	if err1 != nil {
		return fmt.Errorf("%w: deleting table file: %v", errs.ErrIOError, err1)
	}
	if err2 != nil {
		return fmt.Errorf("%w: deleting index file: %v", errs.ErrIOError, err2)
	}
	return nil
}
