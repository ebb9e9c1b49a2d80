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

// Package chained provides an intrusive, chained hash table with a
// bloom-filter prefilter for fast negative lookups.
//
// # Design
//
// Unlike Go's builtin map, a Table does not own its entries. An Entry[T] is
// embedded in a caller record of type T and the table merely links it into
// one of a fixed number of buckets. Each bucket is an intrusive
// doubly-linked chain (a list head plus next/prev-slot pointers stored in
// the entries themselves), so insertion and unlinking are O(1) with no
// per-entry allocation by the table. Keys are byte slices referencing
// caller-owned memory; the table never copies, mutates, or frees them, and
// the referenced bytes must stay valid and unchanged for as long as the
// entry remains linked.
//
// Every insert sets one bit of a 256-bit bloom filter, indexed by the low 8
// bits of the key's hash. Lookups test that bit first: a clear bit proves
// the key was never inserted and skips the bucket scan entirely. Bits are
// never cleared, not even on delete, so the filter has zero false negatives
// by construction; false positives accumulate over the table's lifetime and
// only cost a bucket scan that would have happened anyway.
//
// The bucket count is fixed at construction (rounded up to a power of two
// so bucket selection can mask the hash) and the table does not resize.
// Chains grow without bound, so lookups degrade to O(chain length) when the
// table is loaded far beyond its bucket count; size the table accordingly.
//
// Duplicate keys are permitted. Entries with equal keys coexist in the same
// chain in most-recently-inserted-first order, and Find returns the most
// recently inserted survivor.
//
// A Table is NOT goroutine-safe.
package chained

import (
	"bytes"
	"fmt"
	"math/bits"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
)

const (
	debug      = false
	invariants = false

	// defaultBuckets is the bucket count used when New is given a zero hint.
	defaultBuckets = 16
)

// ErrNilTable is returned by Init when called on a nil receiver.
var ErrNilTable = errors.New("chained: nil table")

// Entry is the intrusive link through which a caller record of type T is
// threaded into a Table[T]. Embed an Entry[T] in T and pass its address to
// Insert; the zero value is ready for use. An entry is linked into at most
// one table at a time, and must be unlinked (via DeleteKey, DeleteEntry, or
// never having been inserted) before it is inserted again.
type Entry[T any] struct {
	// next points to the chain successor, nil at the chain tail. prevSlot
	// points at whichever pointer currently addresses this entry: the
	// bucket's head pointer for the first entry in a chain, the
	// predecessor's next field otherwise. Unlinking therefore never needs
	// to know which bucket the entry is in or whether it is the head.
	next     *Entry[T]
	prevSlot **Entry[T]
	// key references caller-owned bytes; hash caches the key's hash as
	// computed at insertion time, reused by deletion and the invariant
	// checker.
	key   []byte
	hash  uint32
	owner *T
}

// Owner returns the record this entry was inserted on behalf of. It is the
// entry-to-owner projection: given an entry obtained from Find or
// iteration, Owner recovers the enclosing caller record.
func (e *Entry[T]) Owner() *T {
	return e.owner
}

// Key returns the key bytes the entry was inserted under. The returned
// slice aliases caller-owned memory and must not be mutated while the entry
// is linked.
func (e *Entry[T]) Key() []byte {
	return e.key
}

// Linked reports whether the entry is currently linked into a table.
func (e *Entry[T]) Linked() bool {
	return e.prevSlot != nil
}

// unlink removes the entry from its chain and resets it to the unlinked
// state.
func (e *Entry[T]) unlink() {
	*e.prevSlot = e.next
	if e.next != nil {
		e.next.prevSlot = e.prevSlot
	}
	e.next = nil
	e.prevSlot = nil
}

// Bucket is the head of one intrusive chain. Buckets are only handled
// directly by Allocator implementations; all other callers interact with
// buckets through the Table operations.
type Bucket[T any] struct {
	head *Entry[T]
	// count tracks the chain length. The table does not act on it (there
	// is no resize policy), but the invariant checker cross-checks it
	// against the chain and Table.count.
	count int
}

// Table is an intrusive chained hash table from byte-slice keys to entries
// embedded in caller records of type T, with a bloom prefilter that makes
// lookups of never-inserted keys cheap. See the package documentation for
// the design. The zero value is not usable; construct with New or Init.
//
// A Table is NOT goroutine-safe.
type Table[T any] struct {
	// The hash function applied to keys. Defaults to a Jenkins
	// one-at-a-time hash seeded per table; replaceable via WithHash.
	hash hashFn
	seed uint32
	// The allocator for the bucket array and the bloom filter's bits.
	allocator Allocator[T]
	buckets   []Bucket[T]
	// mask is len(buckets)-1; len(buckets) is always a power of two so
	// bucket selection is hash&mask.
	mask uint32
	// The number of linked entries across all buckets.
	count int
	bloom bloomFilter
}

// New constructs a Table with at least bucketHint buckets. A zero hint
// selects the default bucket count (16); a positive hint is rounded up to
// the next power of two. The bucket count is fixed for the table's
// lifetime.
func New[T any](bucketHint int, options ...option[T]) *Table[T] {
	t := &Table[T]{}
	if err := t.Init(bucketHint, options...); err != nil {
		// Init only fails for a nil receiver.
		panic(err)
	}
	return t
}

// Init initializes a Table in place, with the same semantics as New.
// Calling Init on a nil receiver returns ErrNilTable. Re-initializing a
// table that holds linked entries leaks those chains; Close first.
func (t *Table[T]) Init(bucketHint int, options ...option[T]) error {
	if t == nil {
		return errors.WithStack(ErrNilTable)
	}

	n := defaultBuckets
	if bucketHint > 0 {
		// Round up to a power of two so that hash&mask addressing is
		// correct for any hint.
		n = 1 << bits.Len(uint(bucketHint-1))
	}

	*t = Table[T]{
		hash:      jenkinsHash,
		seed:      rand.Uint32(),
		allocator: defaultAllocator[T]{},
	}
	for _, op := range options {
		op.apply(t)
	}

	t.buckets = t.allocator.AllocBuckets(n)
	t.mask = uint32(n - 1)
	t.bloom.bits = t.allocator.AllocBloomBits(bloomBytes)

	t.checkInvariants()
	return nil
}

// Close releases the bucket array and bloom bits back to the configured
// allocator. It never touches entries or their keys. It is unnecessary to
// close a table using the default allocator. A closed table must not be
// used again, though Close itself is idempotent.
func (t *Table[T]) Close() {
	if t.buckets != nil {
		t.allocator.FreeBuckets(t.buckets)
		t.buckets = nil
	}
	if t.bloom.bits != nil {
		t.allocator.FreeBloomBits(t.bloom.bits)
		t.bloom.bits = nil
	}
	t.count = 0
	t.allocator = nil
}

// Insert links entry into the table under key, on behalf of owner. The key
// bytes are borrowed, not copied, and must remain valid and unchanged while
// the entry is linked. Insert does not check for duplicates: entries with
// equal keys coexist, most recent first. The entry must not already be
// linked into any table.
func (t *Table[T]) Insert(entry *Entry[T], owner *T, key []byte) {
	if invariants {
		if entry.Linked() {
			panic("chained: Insert of an already linked entry")
		}
	}

	h := t.hash(key, t.seed)
	entry.key = key
	entry.hash = h
	entry.owner = owner

	b := &t.buckets[h&t.mask]
	if debug {
		fmt.Printf("insert(%q): hash=%08x bucket=%d len=%d\n", key, h, h&t.mask, b.count)
	}

	// Head insertion.
	entry.next = b.head
	entry.prevSlot = &b.head
	if b.head != nil {
		b.head.prevSlot = &entry.next
	}
	b.head = entry
	b.count++

	t.bloom.set(h)
	t.count++
	t.checkInvariants()
}

// Find returns the most recently inserted linked entry whose key equals
// key, or nil if no such entry is linked. The bloom filter is consulted
// first: a key whose hash bit was never set is rejected without touching
// the buckets.
func (t *Table[T]) Find(key []byte) *Entry[T] {
	h := t.hash(key, t.seed)
	if !t.bloom.test(h) {
		if debug {
			fmt.Printf("find(%q): hash=%08x bloom-reject\n", key, h)
		}
		return nil
	}
	for e := t.buckets[h&t.mask].head; e != nil; e = e.next {
		if e.hash == h && bytes.Equal(e.key, key) {
			return e
		}
	}
	return nil
}

// FindOwner is Find projected through the entry-to-owner mapping: it
// returns the owner record for the key, or ok=false if the key is not
// present.
func (t *Table[T]) FindOwner(key []byte) (owner *T, ok bool) {
	if e := t.Find(key); e != nil {
		return e.owner, true
	}
	return nil, false
}

// DeleteKey unlinks and returns the most recently inserted entry whose key
// equals key, or returns nil if no such entry is linked. The caller retains
// ownership of the returned entry and its key bytes; the bloom bit for the
// key's hash stays set.
func (t *Table[T]) DeleteKey(key []byte) *Entry[T] {
	e := t.Find(key)
	if e == nil {
		return nil
	}
	t.remove(e)
	t.checkInvariants()
	return e
}

// DeleteEntry unlinks the entry matching entry's key and returns it, or
// returns nil if entry's key is not linked.
//
// Deletion is by key, not by reference: when several linked entries share
// the key, the most recently inserted of them is unlinked, which need not
// be entry itself. Callers that rely on duplicate keys should delete by key
// and inspect the returned entry.
func (t *Table[T]) DeleteEntry(entry *Entry[T]) *Entry[T] {
	return t.DeleteKey(entry.key)
}

// remove unlinks a found entry and updates the counters. The bloom filter
// is deliberately untouched: clearing the hash's bit could strand other
// entries (or a future re-insert) behind a false negative.
func (t *Table[T]) remove(e *Entry[T]) {
	b := &t.buckets[e.hash&t.mask]
	if debug {
		fmt.Printf("delete(%q): hash=%08x bucket=%d len=%d\n", e.key, e.hash, e.hash&t.mask, b.count)
	}
	e.unlink()
	b.count--
	t.count--
}

// All calls yield for every linked entry, visiting buckets in index order
// and, within a bucket, entries in most-recently-inserted-first chain
// order. If yield returns false, iteration stops. The table must not be
// mutated during iteration; use AllSafe when the caller removes entries
// mid-traversal.
func (t *Table[T]) All(yield func(e *Entry[T]) bool) {
	for i := range t.buckets {
		for e := t.buckets[i].head; e != nil; e = e.next {
			if !yield(e) {
				return
			}
		}
	}
}

// AllSafe is All, made safe against removal of the yielded entry: the chain
// successor is captured before each yield, so yield may unlink (and even
// free) the current entry via DeleteKey or DeleteEntry without invalidating
// the traversal. Removing any other entry during iteration remains
// unsupported.
func (t *Table[T]) AllSafe(yield func(e *Entry[T]) bool) {
	for i := range t.buckets {
		e := t.buckets[i].head
		for e != nil {
			next := e.next
			if !yield(e) {
				return
			}
			e = next
		}
	}
}

// Len returns the number of linked entries.
func (t *Table[T]) Len() int {
	return t.count
}

// bucketCount returns the fixed number of buckets.
func (t *Table[T]) bucketCount() int {
	return len(t.buckets)
}

func (t *Table[T]) checkInvariants() {
	if invariants {
		if n := len(t.buckets); n&(n-1) != 0 || n == 0 {
			panic(fmt.Sprintf("invariant failed: bucket count %d is not a power of two", n))
		}

		var total int
		for i := range t.buckets {
			b := &t.buckets[i]
			var n int
			slot := &b.head
			for e := b.head; e != nil; e = e.next {
				if e.prevSlot != slot {
					panic(fmt.Sprintf("invariant failed: bucket %d entry %q has a stale prev slot\n%s",
						i, e.key, t.debugString()))
				}
				if got := e.hash & t.mask; got != uint32(i) {
					panic(fmt.Sprintf("invariant failed: entry %q hashes to bucket %d but is linked in %d\n%s",
						e.key, got, i, t.debugString()))
				}
				// Bloom zero-false-negative: every linked entry's hash bit
				// must be set.
				if !t.bloom.test(e.hash) {
					panic(fmt.Sprintf("invariant failed: bloom bit clear for linked entry %q (hash=%08x)\n%s",
						e.key, e.hash, t.debugString()))
				}
				slot = &e.next
				n++
			}
			if n != b.count {
				panic(fmt.Sprintf("invariant failed: bucket %d holds %d entries, but count is %d\n%s",
					i, n, b.count, t.debugString()))
			}
			total += n
		}
		if total != t.count {
			panic(fmt.Sprintf("invariant failed: found %d linked entries, but count is %d\n%s",
				total, t.count, t.debugString()))
		}
	}
}

func (t *Table[T]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d count=%d\n", len(t.buckets), t.count)
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.head == nil {
			continue
		}
		fmt.Fprintf(&buf, "  %4d (%d):", i, b.count)
		for e := b.head; e != nil; e = e.next {
			fmt.Fprintf(&buf, " %q[%08x]", e.key, e.hash)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}
