// Package hashtable implements a generic concurrent extendible hash table
// (Fagin 1979): a directory of 2^D bucket references, doubled on overflow,
// with buckets split lazily as they fill. It backs the buffer pool's
// page_id -> frame_id page table and is also usable as a standalone
// concurrent hash index.
package hashtable

import (
	"fmt"
	"sync"
)

// HashFunc maps a key to a 64-bit hash. Callers choose the function so the
// table can be instantiated over integer keys with an identity hash (to
// match the reference implementation's platform, where std::hash<int> is
// the identity) or over arbitrary keys with a general-purpose hash.
type HashFunc[K comparable] func(K) uint64

// IdentityHashInt is the identity hash over int keys.
func IdentityHashInt(k int) uint64 { return uint64(k) }

// IdentityHashInt32 is the identity hash over int32 keys.
func IdentityHashInt32(k int32) uint64 { return uint64(uint32(k)) }

type entry[K comparable, V any] struct {
	key   K
	value V
}

type bucket[K comparable, V any] struct {
	localDepth int
	entries    []entry[K, V]
}

func newBucket[K comparable, V any](depth, size int) *bucket[K, V] {
	return &bucket[K, V]{localDepth: depth, entries: make([]entry[K, V], 0, size)}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// isFull reports whether the bucket already holds bucketSize entries and
// key is not already present (an update never overflows).
func (b *bucket[K, V]) isFull(bucketSize int, key K) bool {
	if len(b.entries) < bucketSize {
		return false
	}
	for _, e := range b.entries {
		if e.key == key {
			return false
		}
	}
	return true
}

func (b *bucket[K, V]) upsert(key K, value V) {
	for i, e := range b.entries {
		if e.key == key {
			b.entries[i].value = value
			return
		}
	}
	b.entries = append(b.entries, entry[K, V]{key: key, value: value})
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

// Table is a concurrent extendible hash table mapping K to V.
type Table[K comparable, V any] struct {
	mu sync.RWMutex

	globalDepth int
	bucketSize  int
	numBuckets  int
	hashFn      HashFunc[K]
	dir         []*bucket[K, V]
}

// New creates a table with the given max entries per bucket and hash
// function, starting with a single bucket at global depth 0.
func New[K comparable, V any](bucketSize int, hashFn HashFunc[K]) *Table[K, V] {
	b := newBucket[K, V](0, bucketSize)
	return &Table[K, V]{
		globalDepth: 0,
		bucketSize:  bucketSize,
		numBuckets:  1,
		hashFn:      hashFn,
		dir:         []*bucket[K, V]{b},
	}
}

func (t *Table[K, V]) indexOf(key K) int {
	mask := (1 << t.globalDepth) - 1
	return int(t.hashFn(key)) & mask
}

// Find looks up key, returning its value and whether it was present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dir[t.indexOf(key)].find(key)
}

// Insert stores (key, value), updating an existing entry in place, and
// splits buckets (doubling the directory when needed) as many times as
// required to make room.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(key, value)
}

func (t *Table[K, V]) insertLocked(key K, value V) {
	idx := t.indexOf(key)
	b := t.dir[idx]

	if !b.isFull(t.bucketSize, key) {
		b.upsert(key, value)
		return
	}

	if b.localDepth == t.globalDepth {
		t.doubleDirectory()
	}

	t.splitBucket(idx)
	t.insertLocked(key, value)
}

func (t *Table[K, V]) doubleDirectory() {
	oldLen := len(t.dir)
	t.dir = append(t.dir, t.dir...)
	_ = oldLen
	t.globalDepth++
}

// splitBucket replaces the bucket at directory index idx with two buckets
// at localDepth+1, redistributing entries and redirecting directory slots
// whose low (localDepth+1) bits select the new bucket.
func (t *Table[K, V]) splitBucket(idx int) {
	old := t.dir[idx]
	newDepth := old.localDepth + 1

	signature := idx & ((1 << old.localDepth) - 1)
	newSignature := signature | (1 << old.localDepth)

	left := newBucket[K, V](newDepth, t.bucketSize)
	right := newBucket[K, V](newDepth, t.bucketSize)

	lowMask := (1 << newDepth) - 1
	for i, b := range t.dir {
		if b != old {
			continue
		}
		if i&lowMask == newSignature {
			t.dir[i] = right
		} else {
			t.dir[i] = left
		}
	}

	for _, e := range old.entries {
		h := int(t.hashFn(e.key)) & lowMask
		if h == newSignature {
			right.entries = append(right.entries, e)
		} else {
			left.entries = append(left.entries, e)
		}
	}

	t.numBuckets++
}

// Remove deletes key, reporting whether it was present. Extendible hashing
// as specified here never merges/shrinks buckets.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// GetGlobalDepth returns the directory's current depth D.
func (t *Table[K, V]) GetGlobalDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalDepth
}

// GetLocalDepth returns the local depth of the bucket referenced by
// directory index dirIndex.
func (t *Table[K, V]) GetLocalDepth(dirIndex int) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if dirIndex < 0 || dirIndex >= len(t.dir) {
		return 0, fmt.Errorf("hashtable: directory index %d out of range [0,%d)", dirIndex, len(t.dir))
	}
	return t.dir[dirIndex].localDepth, nil
}

// GetNumBuckets returns the number of distinct buckets currently allocated.
func (t *Table[K, V]) GetNumBuckets() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numBuckets
}
