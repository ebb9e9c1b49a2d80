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

// option provides an interface to do work on a Table while it is being
// created.
type option[T any] interface {
	apply(t *Table[T])
}

type hashOption[T any] struct {
	hash hashFn
}

func (op hashOption[T]) apply(t *Table[T]) {
	t.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Table[T].
// The default is a per-table-seeded Jenkins one-at-a-time hash.
func WithHash[T any](hash func(key []byte, seed uint32) uint32) option[T] {
	return hashOption[T]{hash}
}

type seedOption[T any] struct {
	seed uint32
}

func (op seedOption[T]) apply(t *Table[T]) {
	t.seed = op.seed
}

// WithSeed is an option to fix the hash seed of a Table[T], overriding the
// per-table random seed. Useful when bucket placement must be reproducible.
func WithSeed[T any](seed uint32) option[T] {
	return seedOption[T]{seed}
}

// Allocator specifies an interface for allocating and releasing the memory
// internally owned by a Table: the bucket array and the bloom filter's bit
// vector. The default allocator utilizes Go's builtin make() and allows the
// GC to reclaim memory. Entries and their keys are never allocated or freed
// through the Allocator; they stay caller-owned.
//
// If the allocator is manually managing memory then Table.Close must be
// called in order to ensure FreeBuckets and FreeBloomBits are called.
type Allocator[T any] interface {
	// AllocBuckets should return a slice equivalent to make([]Bucket[T], n).
	AllocBuckets(n int) []Bucket[T]

	// AllocBloomBits should return a slice equivalent to make([]uint8, n).
	AllocBloomBits(n int) []uint8

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []Bucket[T])

	// FreeBloomBits can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBloomBits.
	FreeBloomBits(v []uint8)
}

type defaultAllocator[T any] struct{}

func (defaultAllocator[T]) AllocBuckets(n int) []Bucket[T] {
	return make([]Bucket[T], n)
}

func (defaultAllocator[T]) AllocBloomBits(n int) []uint8 {
	return make([]uint8, n)
}

func (defaultAllocator[T]) FreeBuckets(v []Bucket[T]) {
}

func (defaultAllocator[T]) FreeBloomBits(v []uint8) {
}

type allocatorOption[T any] struct {
	allocator Allocator[T]
}

func (op allocatorOption[T]) apply(t *Table[T]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specifying the Allocator to use for a
// Table[T].
func WithAllocator[T any](allocator Allocator[T]) option[T] {
	return allocatorOption[T]{allocator}
}
