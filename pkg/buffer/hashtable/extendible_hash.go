// Package hashtable implements a generic extendible hash table. The buffer
// pool uses an instantiation of it keyed by page identifier as its
// page-table, giving O(1) amortized PageID -> FrameID lookup without a
// fixed bucket count chosen up front.
package hashtable

import (
	"fmt"
	"hash/maphash"
	"sync"
)

var seed = maphash.MakeSeed()

// hashKey produces a 64-bit hash for any comparable key by hashing its
// fmt.Sprint representation. This keeps the table generic over the key
// types the core actually uses (primitives.PageID, int64 B+ tree keys)
// without requiring callers to supply a hash function.
func hashKey[K comparable](key K) uint64 {
	return maphash.Bytes(seed, []byte(fmt.Sprint(key)))
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// bucket holds up to bucketSize entries, all of which the global hash
// function routes to the same directory slot at this bucket's local depth.
type bucket[K comparable, V any] struct {
	localDepth int
	entries    []entry[K, V]
}

func newBucket[K comparable, V any](localDepth, capacity int) *bucket[K, V] {
	return &bucket[K, V]{localDepth: localDepth, entries: make([]entry[K, V], 0, capacity)}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// isFull reports whether the bucket holds more than its nominal capacity.
// Insert always appends first and checks after, so "full" here means an
// insert into an already-at-capacity bucket just pushed it one over.
func (b *bucket[K, V]) isFull(bucketSize int) bool {
	return len(b.entries) > bucketSize
}

// upsert overwrites an existing entry for key, or appends a new one,
// reporting whether it appended (i.e. the bucket grew).
func (b *bucket[K, V]) upsert(key K, val V) bool {
	for i := range b.entries {
		if b.entries[i].key == key {
			b.entries[i].val = val
			return false
		}
	}
	b.entries = append(b.entries, entry[K, V]{key, val})
	return true
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Table is a dynamic hash table over a directory of buckets with global
// depth g and per-bucket local depth d <= g, as specified in spec.md §4.1.
// All operations are serialized by a single mutex.
type Table[K comparable, V any] struct {
	mutex       sync.Mutex
	globalDepth int
	bucketSize  int
	directory   []*bucket[K, V]
}

// New returns an empty extendible hash table with one bucket at depth 0.
// bucketSize must be at least 1.
func New[K comparable, V any](bucketSize int) *Table[K, V] {
	if bucketSize < 1 {
		bucketSize = 4
	}
	root := newBucket[K, V](0, bucketSize)
	return &Table[K, V]{
		globalDepth: 0,
		bucketSize:  bucketSize,
		directory:   []*bucket[K, V]{root},
	}
}

// indexOf returns the directory slot for key under the current global
// depth: hash(key) & ((1<<g)-1).
func (t *Table[K, V]) indexOf(key K) int {
	mask := uint64(1)<<uint(t.globalDepth) - 1
	return int(hashKey(key) & mask)
}

// Find looks up key, returning its value and true if present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.directory[t.indexOf(key)].find(key)
}

// Remove deletes key if present, reporting whether it was found.
func (t *Table[K, V]) Remove(key K) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.directory[t.indexOf(key)].remove(key)
}

// Insert adds key->val, overwriting any existing value for key. It grows
// the directory and splits buckets as needed per the split rule in
// spec.md §4.1.
func (t *Table[K, V]) Insert(key K, val V) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.insertLocked(key, val)
}

func (t *Table[K, V]) insertLocked(key K, val V) {
	idx := t.indexOf(key)
	b := t.directory[idx]

	if !b.upsert(key, val) {
		return // overwrote an existing entry, no growth needed
	}
	if !b.isFull(t.bucketSize) {
		return
	}

	// The insert above pushed the bucket one entry past capacity; undo the
	// append conceptually by splitting before re-driving the insert.
	last := len(b.entries) - 1
	overflowed := b.entries[last]
	b.entries = b.entries[:last]
	t.splitAndInsert(idx, overflowed.key, overflowed.val)
}

// splitAndInsert implements the split rule: grow the directory if the
// bucket's local depth has caught up to the global depth, then always
// split the full bucket into two fresh buckets at depth+1 and redistribute,
// before retrying the insert that triggered the split.
func (t *Table[K, V]) splitAndInsert(idx int, key K, val V) {
	b := t.directory[idx]

	if b.localDepth == t.globalDepth {
		t.growDirectory()
	}

	newDepth := b.localDepth + 1
	zero := newBucket[K, V](newDepth, t.bucketSize)
	one := newBucket[K, V](newDepth, t.bucketSize)

	splitBit := uint64(1) << uint(newDepth-1)
	for _, e := range b.entries {
		if hashKey(e.key)&splitBit == 0 {
			zero.entries = append(zero.entries, e)
		} else {
			one.entries = append(one.entries, e)
		}
	}

	lowMask := uint64(1)<<uint(newDepth-1) - 1
	suffix := uint64(idx) & lowMask
	for slot := range t.directory {
		if uint64(slot)&lowMask != suffix {
			continue
		}
		if uint64(slot)&splitBit == 0 {
			t.directory[slot] = zero
		} else {
			t.directory[slot] = one
		}
	}

	t.insertLocked(key, val)
}

// growDirectory doubles the directory, pointing every new slot i+oldSize at
// the same bucket as slot i, and increments the global depth.
func (t *Table[K, V]) growDirectory() {
	oldSize := len(t.directory)
	grown := make([]*bucket[K, V], oldSize*2)
	copy(grown, t.directory)
	copy(grown[oldSize:], t.directory)
	t.directory = grown
	t.globalDepth++
}

// GlobalDepth returns the current directory depth g.
func (t *Table[K, V]) GlobalDepth() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket covering key.
func (t *Table[K, V]) LocalDepth(key K) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.directory[t.indexOf(key)].localDepth
}

// NumBuckets returns the number of distinct buckets currently in the
// directory (directory slots may alias the same bucket).
func (t *Table[K, V]) NumBuckets() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	seen := make(map[*bucket[K, V]]struct{})
	for _, b := range t.directory {
		seen[b] = struct{}{}
	}
	return len(seen)
}
