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

// hashFn maps key bytes and a seed to a 32-bit hash. The result must
// depend only on the byte content and the seed. No resistance to
// adversarial inputs is assumed; the table's distribution and the bloom
// filter both inherit whatever quality the function provides.
type hashFn func(key []byte, seed uint32) uint32

// jenkinsHash is Bob Jenkins' one-at-a-time hash. It is the default table
// hash: a fast, engineering-grade mixing function whose low bits (used for
// both bucket selection and the bloom bit index) are well distributed.
func jenkinsHash(key []byte, seed uint32) uint32 {
	h := seed
	for _, c := range key {
		h += uint32(c)
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}
