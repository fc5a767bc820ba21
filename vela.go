// Package vela
// BSD 3-Clause License
//
// Copyright (c) 2024, Alex Gaetano Padula
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
//  1. Redistributions of source code must retain the above copyright notice, this
//     list of conditions and the following disclaimer.
//
//  2. Redistributions in binary form must reproduce the above copyright notice,
//     this list of conditions and the following disclaimer in the documentation
//     and/or other materials provided with the distribution.
//
//  3. Neither the name of the copyright holder nor the names of its
//     contributors may be used to endorse or promote products derived from
//     this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
package vela

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vela-db/vela/codec"
	"github.com/vela-db/vela/compaction"
	"github.com/vela-db/vela/lock"
	"github.com/vela-db/vela/memtable"
	"github.com/vela-db/vela/murmur"
	"github.com/vela-db/vela/sstable"
	"go.uber.org/zap"
)

const metadataFile = "metadata.json"

// DB is the LSM coordinator (C4): it owns the mem-table and an ordered
// list of on-disk runs, newest first, and serializes access to both
// through the table's entry in the lock manager.
type DB struct {
	dir    string
	schema *codec.Schema
	logger *zap.Logger

	memtableMu sync.RWMutex
	memtable   *memtable.Tree

	runsMu sync.RWMutex
	runs   []*sstable.Run

	lockMgr     *lock.Manager
	tableLockID int64

	serial atomic.Int64
	txnSeq atomic.Int64

	policy   TriggerPolicy
	tick     time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	closedMu sync.Mutex
	closed   bool
}

// Open opens (creating if necessary) the table directory at path,
// loading any existing runs and starting the background flush/compact
// loop. opts.Schema is required the first time a directory is opened
// (metadata.json does not yet exist); on a subsequent Open it is
// optional and, if given, is not compared against the file on disk.
func Open(path string, opts Options) (*DB, error) {
	opts.setDefaults()

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("vela: creating table directory: %w", err)
	}

	schema, err := loadOrWriteSchema(path, opts.Schema)
	if err != nil {
		return nil, err
	}

	db := &DB{
		dir:         path,
		schema:      schema,
		logger:      opts.Logger,
		memtable:    memtable.New(),
		lockMgr:     lock.New(opts.Logger),
		tableLockID: tableLockID(schema.TableName),
		policy:      opts.Policy,
		tick:        opts.TickInterval,
		stop:        make(chan struct{}),
	}
	db.serial.Store(time.Now().UnixNano())

	runs, err := loadRuns(path, schema)
	if err != nil {
		return nil, err
	}
	db.runs = runs

	db.wg.Add(1)
	go db.backgroundLoop()

	db.logger.Info("vela: table opened", zap.String("dir", path), zap.Int("runs", len(runs)))
	return db, nil
}

func loadOrWriteSchema(path string, provided *codec.Schema) (*codec.Schema, error) {
	data, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err == nil {
		return codec.ParseSchema(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("vela: reading metadata.json: %w", err)
	}
	if provided == nil {
		return nil, fmt.Errorf("vela: %s does not exist and no schema was provided", metadataFile)
	}

	doc, err := provided.MarshalMetadata()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(path, metadataFile), doc, 0644); err != nil {
		return nil, fmt.Errorf("vela: writing metadata.json: %w", err)
	}
	return provided, nil
}

// loadRuns scans the table directory for committed <serial>.sst files
// (ignoring .tmp siblings orphaned by an interrupted compaction) and
// opens each one, newest serial first so Get probes runs in the order
// spec.md §4.4 requires.
func loadRuns(dir string, schema *codec.Schema) ([]*sstable.Run, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("vela: listing table directory: %w", err)
	}

	var serials []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".sst") {
			continue
		}
		serialStr := strings.TrimSuffix(name, ".sst")
		serial, err := strconv.ParseInt(serialStr, 10, 64)
		if err != nil {
			continue
		}
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] > serials[j] })

	runs := make([]*sstable.Run, 0, len(serials))
	for _, serial := range serials {
		run, err := sstable.Open(dir, serial, schema)
		if err != nil {
			return nil, fmt.Errorf("vela: opening run %d: %w", serial, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// tableLockID derives C6's lock_id from the table name, per spec.md
// §4.5's "hash(table_name)".
func tableLockID(tableName string) int64 {
	return int64(murmur.Hash64([]byte(tableName), 0))
}

// Get returns the table's current definition of key. ok is false when
// no definition exists, or the most recent one is a tombstone — both
// are "not found" to the caller, distinguishable from a stored zero
// value only through ok (spec.md §9's None-shaped-return decision).
func (db *DB) Get(key any) (value any, ok bool, err error) {
	err = db.lockMgr.With(db.tableLockID, db.NextTxnID(), lock.Shared, func() error {
		db.memtableMu.RLock()
		rec, found := db.memtable.Find(key)
		db.memtableMu.RUnlock()
		if found {
			if !rec.Tombstone {
				value, ok = rec.Value, true
			}
			return nil
		}

		for _, run := range db.Runs() {
			rec, found, ferr := run.Find(key)
			if ferr != nil {
				return ferr
			}
			if !found {
				continue
			}
			if !rec.Tombstone {
				value, ok = rec.Value, true
			}
			return nil
		}
		return nil
	})
	return value, ok, err
}

// Put installs (key, value) in the mem-table, overwriting any prior
// definition.
func (db *DB) Put(key, value any) error {
	return db.lockMgr.With(db.tableLockID, db.NextTxnID(), lock.Exclusive, func() error {
		db.memtableMu.Lock()
		defer db.memtableMu.Unlock()
		db.memtable.Insert(codec.Record{Key: key, Value: value, Tombstone: false})
		return nil
	})
}

// Delete installs a tombstone for key, masking any on-disk definition
// even when key was never put in this process.
func (db *DB) Delete(key any) error {
	return db.lockMgr.With(db.tableLockID, db.NextTxnID(), lock.Exclusive, func() error {
		db.memtableMu.Lock()
		defer db.memtableMu.Unlock()
		db.memtable.Delete(key)
		return nil
	})
}

// Flush forces the mem-table's current contents to a new run.
func (db *DB) Flush() error {
	return compaction.Flush(db)
}

// Compact forces a full merge of every existing run.
func (db *DB) Compact() error {
	return compaction.Compact(db)
}

// Close stops the background loop, flushes any pending writes, and
// waits for in-flight background work to finish.
func (db *DB) Close() error {
	db.closedMu.Lock()
	if db.closed {
		db.closedMu.Unlock()
		return nil
	}
	db.closed = true
	db.closedMu.Unlock()

	close(db.stop)
	db.wg.Wait()

	db.memtableMu.RLock()
	pending := db.memtable.Size() > 0
	db.memtableMu.RUnlock()
	if pending {
		db.logger.Info("vela: flushing pending writes on close")
		if err := db.Flush(); err != nil {
			return fmt.Errorf("vela: final flush on close: %w", err)
		}
	}
	return nil
}

// backgroundLoop ticks on opts.TickInterval, checking the trigger
// policy and escalating to flush/compact exactly like the teacher's
// backgroundFlusher/backgroundCompactor pair, adapted from the single
// ticker cadence pager.startPeriodicSync uses for its own background
// maintenance cycle.
func (db *DB) backgroundLoop() {
	defer db.wg.Done()

	ticker := time.NewTicker(db.tick)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
			db.memtableMu.RLock()
			size := db.memtable.Size()
			db.memtableMu.RUnlock()

			if db.policy.ShouldFlush(size) {
				if err := db.Flush(); err != nil {
					db.logger.Warn("vela: background flush failed, retrying next tick", zap.Error(err))
				}
			}

			if db.policy.ShouldCompact(len(db.Runs())) {
				if err := db.Compact(); err != nil {
					db.logger.Warn("vela: background compaction failed, retrying next tick", zap.Error(err))
				}
			}
		}
	}
}

// The following methods satisfy compaction.Coordinator.

func (db *DB) Dir() string                { return db.dir }
func (db *DB) Schema() *codec.Schema      { return db.schema }
func (db *DB) NextSerial() int64          { return db.serial.Add(1) }
func (db *DB) NextTxnID() int64           { return db.txnSeq.Add(1) }
func (db *DB) LockManager() *lock.Manager { return db.lockMgr }
func (db *DB) LockID() int64              { return db.tableLockID }
func (db *DB) Logger() *zap.Logger        { return db.logger }

func (db *DB) MemtableRecords() []codec.Record {
	db.memtableMu.RLock()
	defer db.memtableMu.RUnlock()
	return db.memtable.Iter()
}

func (db *DB) ResetMemtable() {
	db.memtableMu.Lock()
	defer db.memtableMu.Unlock()
	db.memtable = memtable.New()
}

func (db *DB) Runs() []*sstable.Run {
	db.runsMu.RLock()
	defer db.runsMu.RUnlock()
	out := make([]*sstable.Run, len(db.runs))
	copy(out, db.runs)
	return out
}

func (db *DB) SetRuns(runs []*sstable.Run) {
	db.runsMu.Lock()
	defer db.runsMu.Unlock()
	db.runs = runs
}
