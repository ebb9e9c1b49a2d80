// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chained

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBloomSetTest(t *testing.T) {
	f := bloomFilter{bits: make([]uint8, bloomBytes)}

	// Empty filter rejects everything.
	for h := uint32(0); h < bloomBits; h++ {
		require.False(t, f.test(h))
	}

	// Each bit is independent and indexed by the low bloomBitLength bits.
	for h := uint32(0); h < bloomBits; h += 3 {
		f.set(h)
	}
	for h := uint32(0); h < bloomBits; h++ {
		require.Equal(t, h%3 == 0, f.test(h))
	}
}

func TestBloomIgnoresHighBits(t *testing.T) {
	f := bloomFilter{bits: make([]uint8, bloomBytes)}

	f.set(0xdeadbe07)
	require.True(t, f.test(0x00000007))
	require.True(t, f.test(0xffffff07))
	require.False(t, f.test(0x00000008))
}

func TestBloomAccumulates(t *testing.T) {
	tab := New[record](0)

	// Inserts only ever set bits. Many inserts degrade the filter toward
	// always-true, but never to a false negative.
	recs := make([]*record, bloomBits)
	for i := range recs {
		recs[i] = newRecord(fmt.Sprintf("k%d", i), i)
		insertRecord(tab, recs[i])
	}
	for _, r := range recs {
		require.True(t, tab.bloom.test(r.link.hash))
	}

	// Deleting everything leaves every accumulated bit set.
	for _, r := range recs {
		require.NotNil(t, tab.DeleteKey(r.key))
	}
	require.Equal(t, 0, tab.Len())
	for _, r := range recs {
		require.True(t, tab.bloom.test(r.link.hash))
	}
}
