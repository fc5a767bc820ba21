package sstable

import (
	"fmt"
	"os"

	"github.com/golang/snappy"
	"github.com/vela-db/vela/codec"
	"github.com/vela-db/vela/errs"
)

// Cursor is a forward-only, single-use iterator over a run's records in
// ascending key order (spec.md §4.3's scan()). It owns the table file
// handle for the duration of the scan; callers must Close it.
type Cursor struct {
	run        *Run
	file       *os.File
	blockIndex int
	records    []codec.Record
	recIdx     int
}

// Scan opens a fresh Cursor over the run's blocks in order.
func (r *Run) Scan() (*Cursor, error) {
	f, err := os.Open(TablePath(r.Dir, r.Serial, r.Temp))
	if err != nil {
		return nil, fmt.Errorf("%w: opening table file for scan: %v", errs.ErrIOError, err)
	}
	return &Cursor{run: r, file: f}, nil
}

// Next returns the next record, or ok == false once the run is
// exhausted.
func (c *Cursor) Next() (codec.Record, bool, error) {
	rec, _, ok, err := c.nextWithBlock()
	return rec, ok, err
}

// nextWithBlock additionally reports which block the returned record
// came from, which rebuildFilter uses to reconstruct the per-key
// existence filter after reopening a run.
func (c *Cursor) nextWithBlock() (codec.Record, int, bool, error) {
	for c.recIdx >= len(c.records) {
		if c.blockIndex >= len(c.run.index) {
			return codec.Record{}, 0, false, nil
		}

		offset, length, err := c.run.blockByteRange(c.blockIndex)
		if err != nil {
			return codec.Record{}, 0, false, err
		}

		compressed := make([]byte, length)
		if _, err := c.file.ReadAt(compressed, offset); err != nil {
			return codec.Record{}, 0, false, fmt.Errorf("%w: reading block: %v", errs.ErrIOError, err)
		}
		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			return codec.Record{}, 0, false, fmt.Errorf("%w: decompressing block: %v", errs.ErrIOError, err)
		}

		var records []codec.Record
		for len(payload) > 0 {
			rec, n, err := codec.DecodeRecord(payload, c.run.Schema)
			if err != nil {
				return codec.Record{}, 0, false, fmt.Errorf("decoding block record: %w", err)
			}
			records = append(records, rec)
			payload = payload[n:]
		}

		c.records = records
		c.recIdx = 0
		c.blockIndex++
	}

	rec := c.records[c.recIdx]
	blockIdx := c.blockIndex - 1
	c.recIdx++
	return rec, blockIdx, true, nil
}

// Close releases the cursor's file handle.
func (c *Cursor) Close() error {
	return c.file.Close()
}
