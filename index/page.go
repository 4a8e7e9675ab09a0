package index

import (
	"encoding/binary"
	"fmt"

	"github.com/jobala/petro/storage/disk"
)

// leafPage is the in-memory decoding of a B+Tree leaf page: the common
// header plus next_page_id, followed by size (Key, RID) pairs sorted
// ascending by key.
type leafPage struct {
	pageType     pageType
	lsn          int32
	size         int32
	maxSize      int32
	parentPageID disk.PageID
	pageID       disk.PageID
	nextPageID   disk.PageID

	keys   []int64
	values []RID
}

func newLeafPage(pageID, parentPageID disk.PageID, maxSize int32) *leafPage {
	return &leafPage{
		pageType:     leafPageType,
		size:         0,
		maxSize:      maxSize,
		parentPageID: parentPageID,
		pageID:       pageID,
		nextPageID:   disk.INVALID_PAGE_ID,
		keys:         make([]int64, 0, maxSize+1),
		values:       make([]RID, 0, maxSize+1),
	}
}

func (p *leafPage) isLeaf() bool { return true }

// encode serializes p into buf (sized disk.PAGE_SIZE), bit-exact per the
// 24-byte common header + 4-byte next_page_id + size*(key+RID) layout.
func (p *leafPage) encode(buf []byte) {
	order := binary.LittleEndian
	order.PutUint32(buf[0:4], uint32(p.pageType))
	order.PutUint32(buf[4:8], uint32(p.lsn))
	order.PutUint32(buf[8:12], uint32(p.size))
	order.PutUint32(buf[12:16], uint32(p.maxSize))
	order.PutUint32(buf[16:20], uint32(p.parentPageID))
	order.PutUint32(buf[20:24], uint32(p.pageID))
	order.PutUint32(buf[24:28], uint32(p.nextPageID))

	off := 28
	for i := 0; i < int(p.size); i++ {
		order.PutUint64(buf[off:off+8], uint64(p.keys[i]))
		order.PutUint32(buf[off+8:off+12], uint32(p.values[i].PageID))
		order.PutUint32(buf[off+12:off+16], p.values[i].Slot)
		off += leafEntrySize
	}
}

func decodeLeafPage(buf []byte) *leafPage {
	order := binary.LittleEndian
	p := &leafPage{
		pageType:     pageType(order.Uint32(buf[0:4])),
		lsn:          int32(order.Uint32(buf[4:8])),
		size:         int32(order.Uint32(buf[8:12])),
		maxSize:      int32(order.Uint32(buf[12:16])),
		parentPageID: disk.PageID(order.Uint32(buf[16:20])),
		pageID:       disk.PageID(order.Uint32(buf[20:24])),
		nextPageID:   disk.PageID(order.Uint32(buf[24:28])),
	}
	p.keys = make([]int64, p.size)
	p.values = make([]RID, p.size)

	off := 28
	for i := 0; i < int(p.size); i++ {
		p.keys[i] = int64(order.Uint64(buf[off : off+8]))
		p.values[i] = RID{
			PageID: disk.PageID(order.Uint32(buf[off+8 : off+12])),
			Slot:   order.Uint32(buf[off+12 : off+16]),
		}
		off += leafEntrySize
	}
	return p
}

// insertIdx returns the position at which key belongs to keep keys sorted
// ascending, via binary search.
func (p *leafPage) insertIdx(key int64) int {
	lo, hi := 0, int(p.size)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if p.keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (p *leafPage) find(key int64) (RID, bool) {
	idx := p.insertIdx(key)
	if idx < int(p.size) && p.keys[idx] == key {
		return p.values[idx], true
	}
	return RID{}, false
}

func (p *leafPage) insertAt(idx int, key int64, value RID) {
	p.keys = append(p.keys, 0)
	p.values = append(p.values, RID{})
	copy(p.keys[idx+1:], p.keys[idx:])
	copy(p.values[idx+1:], p.values[idx:])
	p.keys[idx] = key
	p.values[idx] = value
	p.size++
}

func (p *leafPage) removeAt(idx int) {
	p.keys = append(p.keys[:idx], p.keys[idx+1:]...)
	p.values = append(p.values[:idx], p.values[idx+1:]...)
	p.size--
}

// internalPage is the in-memory decoding of a B+Tree internal page: the
// common header, followed by size (Key, child page id) pairs. Slot 0's key
// is a don't-care; child[i] holds keys k with keys[i] <= k < keys[i+1].
type internalPage struct {
	pageType     pageType
	lsn          int32
	size         int32
	maxSize      int32
	parentPageID disk.PageID
	pageID       disk.PageID

	keys     []int64
	children []disk.PageID
}

func newInternalPage(pageID, parentPageID disk.PageID, maxSize int32) *internalPage {
	return &internalPage{
		pageType:     internalPageType,
		maxSize:      maxSize,
		parentPageID: parentPageID,
		pageID:       pageID,
		keys:         make([]int64, 0, maxSize+1),
		children:     make([]disk.PageID, 0, maxSize+1),
	}
}

func (p *internalPage) isLeaf() bool { return false }

func (p *internalPage) encode(buf []byte) {
	order := binary.LittleEndian
	order.PutUint32(buf[0:4], uint32(p.pageType))
	order.PutUint32(buf[4:8], uint32(p.lsn))
	order.PutUint32(buf[8:12], uint32(p.size))
	order.PutUint32(buf[12:16], uint32(p.maxSize))
	order.PutUint32(buf[16:20], uint32(p.parentPageID))
	order.PutUint32(buf[20:24], uint32(p.pageID))

	off := commonHeaderSize
	for i := 0; i < int(p.size); i++ {
		order.PutUint64(buf[off:off+8], uint64(p.keys[i]))
		order.PutUint32(buf[off+8:off+12], uint32(p.children[i]))
		off += internalEntrySize
	}
}

func decodeInternalPage(buf []byte) *internalPage {
	order := binary.LittleEndian
	p := &internalPage{
		pageType:     pageType(order.Uint32(buf[0:4])),
		lsn:          int32(order.Uint32(buf[4:8])),
		size:         int32(order.Uint32(buf[8:12])),
		maxSize:      int32(order.Uint32(buf[12:16])),
		parentPageID: disk.PageID(order.Uint32(buf[16:20])),
		pageID:       disk.PageID(order.Uint32(buf[20:24])),
	}
	p.keys = make([]int64, p.size)
	p.children = make([]disk.PageID, p.size)

	off := commonHeaderSize
	for i := 0; i < int(p.size); i++ {
		p.keys[i] = int64(order.Uint64(buf[off : off+8]))
		p.children[i] = disk.PageID(order.Uint32(buf[off+8 : off+12]))
		off += internalEntrySize
	}
	return p
}

// childIndex finds the child slot to descend into for key: the largest i
// such that keys[i] <= key (slot 0's key is a don't-care and always
// qualifies).
func (p *internalPage) childIndex(key int64) int {
	idx := 0
	for i := 1; i < int(p.size); i++ {
		if p.keys[i] <= key {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// insertIdx returns the position at which (key, child) belongs among slots
// 1..size-1 (slot 0 is reserved for the leftmost, keyless child).
func (p *internalPage) insertIdx(key int64) int {
	lo, hi := 1, int(p.size)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if p.keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (p *internalPage) insertAt(idx int, key int64, child disk.PageID) {
	p.keys = append(p.keys, 0)
	p.children = append(p.children, 0)
	copy(p.keys[idx+1:], p.keys[idx:])
	copy(p.children[idx+1:], p.children[idx:])
	p.keys[idx] = key
	p.children[idx] = child
	p.size++
}

func (p *internalPage) removeAt(idx int) {
	p.keys = append(p.keys[:idx], p.keys[idx+1:]...)
	p.children = append(p.children[:idx], p.children[idx+1:]...)
	p.size--
}

// popFirst removes the leftmost child, returning it along with the
// separator key that used to sit between it and the next child (slot 1),
// and restores slot 0 to a don't-care key.
func (p *internalPage) popFirst() (disk.PageID, int64) {
	child := p.children[0]
	sepKey := p.keys[1]
	p.children = p.children[1:]
	p.keys = append([]int64{0}, p.keys[2:]...)
	p.size--
	return child, sepKey
}

// pushFirst inserts child as the new leftmost child with sepKey becoming
// the separator between it and the old leftmost child.
func (p *internalPage) pushFirst(sepKey int64, child disk.PageID) {
	p.children = append([]disk.PageID{child}, p.children...)
	p.keys = append([]int64{0, sepKey}, p.keys[1:]...)
	p.size++
}

// popLast removes the rightmost child along with its separator key.
func (p *internalPage) popLast() (disk.PageID, int64) {
	n := p.size
	child := p.children[n-1]
	sepKey := p.keys[n-1]
	p.children = p.children[:n-1]
	p.keys = p.keys[:n-1]
	p.size--
	return child, sepKey
}

// pushLast appends child as the new rightmost child, separated from the
// old rightmost child by sepKey.
func (p *internalPage) pushLast(sepKey int64, child disk.PageID) {
	p.keys = append(p.keys, sepKey)
	p.children = append(p.children, child)
	p.size++
}

func (p *internalPage) indexOfChild(childID disk.PageID) (int, error) {
	for i, c := range p.children {
		if c == childID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("index: child page %d not found in parent %d", childID, p.pageID)
}

// ceil returns ceil(n/2), the split point shared by leaf and internal
// splits.
func ceil(n int32) int32 {
	if n%2 == 0 {
		return n / 2
	}
	return n/2 + 1
}
