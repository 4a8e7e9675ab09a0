package index

import (
	"fmt"

	"github.com/jobala/petro/storage/disk"
)

// Iterator walks a B+Tree's leaves in ascending key order. It does not
// hold the tree's latch, and no page stays pinned between calls: it keeps a
// decoded copy of the current leaf and reads the next leaf through the
// buffer pool only when it moves past the end of that copy.
type Iterator struct {
	tree   *BPlusTree
	leafID disk.PageID
	leaf   *leafPage
	idx    int
	done   bool
}

// Begin returns an iterator positioned at the tree's smallest key.
func (t *BPlusTree) Begin() (*Iterator, error) {
	t.mu.RLock()
	rootID, ok, err := t.header.GetRootId(t.name)
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !ok || rootID == disk.INVALID_PAGE_ID {
		return &Iterator{done: true}, nil
	}

	pageID := rootID
	for {
		guard, err := t.bpm.ReadPage(pageID)
		if err != nil {
			return nil, fmt.Errorf("index: begin: %w", err)
		}
		data := guard.GetData()
		if readPageType(data) == leafPageType {
			guard.Drop()
			break
		}
		internalPg := decodeInternalPage(data)
		guard.Drop()
		pageID = internalPg.children[0]
	}

	return t.newIteratorAt(pageID, 0)
}

// BeginAt returns an iterator positioned at the first entry with key >=
// start.
func (t *BPlusTree) BeginAt(start int64) (*Iterator, error) {
	t.mu.RLock()
	rootID, ok, err := t.header.GetRootId(t.name)
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !ok || rootID == disk.INVALID_PAGE_ID {
		return &Iterator{done: true}, nil
	}

	leafID, err := t.findLeafPageID(rootID, start)
	if err != nil {
		return nil, err
	}
	leaf, err := t.readLeaf(leafID)
	if err != nil {
		return nil, err
	}

	return t.newIteratorAt(leafID, leaf.insertIdx(start))
}

// End returns an already-exhausted iterator, useful as a sentinel to
// compare a range's end against.
func (t *BPlusTree) End() *Iterator {
	return &Iterator{done: true}
}

func (t *BPlusTree) newIteratorAt(leafID disk.PageID, idx int) (*Iterator, error) {
	leaf, err := t.readLeaf(leafID)
	if err != nil {
		return nil, err
	}
	it := &Iterator{tree: t, leafID: leafID, leaf: leaf, idx: idx}
	if err := it.skipToNonEmpty(); err != nil {
		return nil, err
	}
	return it, nil
}

// skipToNonEmpty advances across empty or exhausted leaves until idx names
// a real entry or the rightmost leaf has been exhausted.
func (it *Iterator) skipToNonEmpty() error {
	for !it.done && it.idx >= int(it.leaf.size) {
		if it.leaf.nextPageID == disk.INVALID_PAGE_ID {
			it.done = true
			return nil
		}
		next, err := it.tree.readLeaf(it.leaf.nextPageID)
		if err != nil {
			return err
		}
		it.leafID = it.leaf.nextPageID
		it.leaf = next
		it.idx = 0
	}
	return nil
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool {
	return it.done
}

// Next returns the current (key, value) pair and advances the iterator.
func (it *Iterator) Next() (int64, RID, error) {
	if it.done {
		return 0, RID{}, fmt.Errorf("index: iterator exhausted")
	}
	key := it.leaf.keys[it.idx]
	val := it.leaf.values[it.idx]
	it.idx++
	if err := it.skipToNonEmpty(); err != nil {
		return key, val, err
	}
	return key, val, nil
}
