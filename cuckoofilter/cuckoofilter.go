// Package cuckoofilter implements a cuckoo filter used by the sstable
// package as a per-run existence pre-check (spec.md's "no-goal" list
// allows auxiliary indexing structures beyond the mandated sparse
// index): a negative Lookup lets sstable's Run.Find skip the sparse-index
// probe and the block read entirely for a key that was never written
// to the run. Each entry also carries the index of the block the key
// falls in, so a positive Lookup can seek the reader straight to that
// block instead of binary-searching the sparse index again.
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
package cuckoofilter

import (
	"github.com/vela-db/vela/murmur"
)

// initialFilterSize/maxBucketSize bound a single run's filter: a run
// is immutable once committed, so the only growth this has to absorb
// is one run's worth of keys between Write/Compact and the filter
// being dropped with the rest of the Run on its next compaction.
const (
	initialFilterSize = 1000 // initial number of buckets in the filter
	maxBucketSize     = 8    // max number of elements per bucket
)

// CuckooFilter structure
type CuckooFilter struct {
	Buckets     []uint64
	KeyBlockMap map[uint64]int64
}

// NewCuckooFilter creates a new cuckoo filter
func NewCuckooFilter() *CuckooFilter {
	return &CuckooFilter{
		Buckets:     make([]uint64, initialFilterSize*maxBucketSize),
		KeyBlockMap: make(map[uint64]int64),
	}
}

// Hash the key into a single value using murmur
func (cf *CuckooFilter) hashKey(key []byte) uint64 {
	return murmur.Hash64(key, 0) // Using 0 as the seed
}

// Get two possible indices in the cuckoo filter for a hashed key
func (cf *CuckooFilter) getHashIndices(hashedKey uint64) (int, int) {
	filterSize := len(cf.Buckets) / maxBucketSize
	index1 := int(hashedKey % uint64(filterSize))
	index2 := int((hashedKey >> 32) % uint64(filterSize))
	return index1, index2
}

// Resize the cuckoo filter by doubling its size
func (cf *CuckooFilter) resize() {
	newFilterSize := len(cf.Buckets) * 2
	newBuckets := make([]uint64, newFilterSize)
	newBucketCount := uint64(newFilterSize / maxBucketSize)

	// Rehash all existing keys into the new buckets
	for i := 0; i < len(cf.Buckets); i++ {
		if cf.Buckets[i] != 0 {
			hashedKey := cf.Buckets[i]
			index1 := int(hashedKey % newBucketCount)
			index2 := int((hashedKey >> 32) % newBucketCount)
			inserted := false
			for k := 0; k < maxBucketSize; k++ {
				if newBuckets[index1*maxBucketSize+k] == 0 {
					newBuckets[index1*maxBucketSize+k] = hashedKey
					inserted = true
					break
				}
			}
			if !inserted {
				for k := 0; k < maxBucketSize; k++ {
					if newBuckets[index2*maxBucketSize+k] == 0 {
						newBuckets[index2*maxBucketSize+k] = hashedKey
						break
					}
				}
			}
		}
	}

	cf.Buckets = newBuckets
}

// Insert records that key falls in the block at blockIndex.
func (cf *CuckooFilter) Insert(blockIndex int64, key []byte) bool {
	hashedKey := cf.hashKey(key)
	index1, index2 := cf.getHashIndices(hashedKey)

	// Try to insert into the first index
	for i := 0; i < maxBucketSize; i++ {
		if cf.Buckets[index1*maxBucketSize+i] == 0 {
			cf.Buckets[index1*maxBucketSize+i] = hashedKey
			cf.KeyBlockMap[hashedKey] = blockIndex
			return true
		}
	}

	// If index1 is full, try to insert into index2
	for i := 0; i < maxBucketSize; i++ {
		if cf.Buckets[index2*maxBucketSize+i] == 0 {
			cf.Buckets[index2*maxBucketSize+i] = hashedKey
			cf.KeyBlockMap[hashedKey] = blockIndex
			return true
		}
	}

	// If both buckets are full, resize and retry
	cf.resize()
	return cf.Insert(blockIndex, key)
}

// Lookup reports whether key may be present and, if so, which block
// it was inserted under.
func (cf *CuckooFilter) Lookup(key []byte) (int64, bool) {
	hashedKey := cf.hashKey(key)
	index1, index2 := cf.getHashIndices(hashedKey)

	// Check the first index
	for i := 0; i < maxBucketSize; i++ {
		if cf.Buckets[index1*maxBucketSize+i] == hashedKey {
			return cf.KeyBlockMap[hashedKey], true
		}
	}

	// Check the second index
	for i := 0; i < maxBucketSize; i++ {
		if cf.Buckets[index2*maxBucketSize+i] == hashedKey {
			return cf.KeyBlockMap[hashedKey], true
		}
	}

	return 0, false
}
