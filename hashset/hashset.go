// Package hashset implements a resizing open-bucket hash set over
// int64 identifiers. It backs the lock manager's per-lock owner sets
// (spec.md §4.6: "Holds ... an owner set of transactions"), where a
// plain map would do the job just as well but a dedicated bucket table
// keeps the hashing strategy (and its murmur dependency) shared with
// the rest of the store instead of duplicated ad hoc.
//
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
package hashset

import (
	"encoding/binary"

	"github.com/vela-db/vela/murmur"
)

const initialCapacity = 32
const loadFactorThreshold = 0.7

// Set is a hash set of int64 transaction identifiers.
type Set struct {
	buckets  [][]int64
	size     int
	capacity int
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		buckets:  make([][]int64, initialCapacity),
		capacity: initialCapacity,
	}
}

func (s *Set) hash(value int64, capacity int) int {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(value))
	return int(murmur.Hash64(key[:], 4) % uint64(capacity))
}

// Add inserts txn into the set; a second Add of the same id is a no-op.
func (s *Set) Add(txn int64) {
	index := s.hash(txn, s.capacity)
	for _, v := range s.buckets[index] {
		if v == txn {
			return
		}
	}
	s.buckets[index] = append(s.buckets[index], txn)
	s.size++

	if float64(s.size)/float64(s.capacity) > loadFactorThreshold {
		s.resize()
	}
}

func (s *Set) resize() {
	newCapacity := s.capacity * 2
	newBuckets := make([][]int64, newCapacity)

	for _, bucket := range s.buckets {
		for _, v := range bucket {
			idx := s.hash(v, newCapacity)
			newBuckets[idx] = append(newBuckets[idx], v)
		}
	}

	s.buckets = newBuckets
	s.capacity = newCapacity
}

// Remove deletes txn from the set, if present.
func (s *Set) Remove(txn int64) {
	index := s.hash(txn, s.capacity)
	for i, v := range s.buckets[index] {
		if v == txn {
			s.buckets[index] = append(s.buckets[index][:i], s.buckets[index][i+1:]...)
			s.size--
			return
		}
	}
}

// Contains reports whether txn is a member of the set.
func (s *Set) Contains(txn int64) bool {
	index := s.hash(txn, s.capacity)
	for _, v := range s.buckets[index] {
		if v == txn {
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (s *Set) Len() int {
	return s.size
}

// Each calls fn once per member, in unspecified order.
func (s *Set) Each(fn func(txn int64)) {
	for _, bucket := range s.buckets {
		for _, v := range bucket {
			fn(v)
		}
	}
}

// Slice returns the members as a slice, in unspecified order.
func (s *Set) Slice() []int64 {
	out := make([]int64, 0, s.size)
	s.Each(func(txn int64) { out = append(out, txn) })
	return out
}
