// Package cuckoofilter tests
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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCuckooFilterStartsEmpty(t *testing.T) {
	cf := NewCuckooFilter()
	require.Len(t, cf.Buckets, initialFilterSize*maxBucketSize)
	for _, bucket := range cf.Buckets {
		require.Equal(t, uint64(0), bucket)
	}
}

func TestInsertAndLookup(t *testing.T) {
	cf := NewCuckooFilter()
	key := []byte("testkey")
	blockIndex := int64(42)

	require.True(t, cf.Insert(blockIndex, key))

	got, found := cf.Lookup(key)
	require.True(t, found)
	require.Equal(t, blockIndex, got)
}

func TestLookupMissingKey(t *testing.T) {
	cf := NewCuckooFilter()
	cf.Insert(1, []byte("present"))

	_, found := cf.Lookup([]byte("absent"))
	require.False(t, found)
}

func TestResizeOnBucketPressure(t *testing.T) {
	cf := NewCuckooFilter()
	// more keys than the initial filter has slots, so at least one
	// resize must happen
	const n = 20000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		require.True(t, cf.Insert(int64(i), key))
	}
	require.Greater(t, len(cf.Buckets), initialFilterSize*maxBucketSize)

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		got, found := cf.Lookup(key)
		require.True(t, found)
		require.Equal(t, int64(i), got)
	}
}
