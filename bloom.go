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

const (
	// bloomBitLength is the log2 of the filter size: the filter holds
	// 1<<bloomBitLength bits and is indexed by that many low bits of the
	// hash.
	bloomBitLength = 8

	bloomBits  = 1 << bloomBitLength
	bloomBytes = bloomBits / 8
	bloomMask  = bloomBits - 1
)

// bloomFilter is a single-probe bloom filter over the low bloomBitLength
// bits of entry hashes. It prefilters lookups: a clear bit proves the hash
// was never inserted, so the bucket scan can be skipped. Bits are set on
// every insert and never cleared (not even when the last entry with a
// given hash is deleted), which keeps the filter free of false negatives
// at the cost of false positives that accumulate monotonically over the
// table's lifetime. A false positive merely costs the bucket scan the
// filter would otherwise have saved.
type bloomFilter struct {
	bits []uint8
}

func (f *bloomFilter) set(hash uint32) {
	i := hash & bloomMask
	f.bits[i/8] |= 1 << (i % 8)
}

func (f *bloomFilter) test(hash uint32) bool {
	i := hash & bloomMask
	return f.bits[i/8]&(1<<(i%8)) != 0
}
