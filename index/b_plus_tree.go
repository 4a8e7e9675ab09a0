package index

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/jobala/petro/buffer"
	"github.com/jobala/petro/storage/disk"
	"github.com/jobala/petro/util"
)

// DefaultLeafMaxSize and DefaultInternalMaxSize bound the entry counts at
// which a page must split, sized so the common header plus one entry past
// capacity (the slot a split briefly occupies before being carved off)
// still fits in a single disk.PAGE_SIZE page.
const (
	DefaultLeafMaxSize     = 253
	DefaultInternalMaxSize = 338
)

// BPlusTree is an ordered index from int64 key to RID, stored as a tree of
// leaf and internal pages managed through a buffer pool. A single
// tree-wide latch serializes Insert and Remove against each other and
// against GetValue and IsEmpty. Begin and BeginAt hold the latch only while
// reading the root page id; the descent to the starting leaf and every
// later iterator step run without it.
type BPlusTree struct {
	mu sync.RWMutex

	name            string
	bpm             *buffer.BufferpoolManager
	header          *headerPage
	leafMaxSize     int32
	internalMaxSize int32
	logger          *log.Logger
}

// NewBPlusTree creates an index named name over bpm. name distinguishes
// this tree's root pointer from any other tree's within the same header
// page, so multiple indexes may share one buffer pool.
func NewBPlusTree(name string, bpm *buffer.BufferpoolManager, leafMaxSize, internalMaxSize int32) (*BPlusTree, error) {
	if leafMaxSize < 3 {
		return nil, fmt.Errorf("index: leaf max size must be at least 3, got %d", leafMaxSize)
	}
	if internalMaxSize < 3 {
		return nil, fmt.Errorf("index: internal max size must be at least 3, got %d", internalMaxSize)
	}

	return &BPlusTree{
		name:            name,
		bpm:             bpm,
		header:          newHeaderPage(bpm),
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		logger:          log.Default(),
	}, nil
}

// SetLogger overrides the default logger.
func (t *BPlusTree) SetLogger(l *log.Logger) {
	t.logger = l
}

// IsEmpty reports whether the tree has no root page yet.
func (t *BPlusTree) IsEmpty() (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rootID, ok, err := t.header.GetRootId(t.name)
	if err != nil {
		return false, err
	}
	return !ok || rootID == disk.INVALID_PAGE_ID, nil
}

// GetValue returns the RID stored under key, and false if key is absent.
func (t *BPlusTree) GetValue(key int64) (RID, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rootID, ok, err := t.header.GetRootId(t.name)
	if err != nil {
		return RID{}, false, err
	}
	if !ok || rootID == disk.INVALID_PAGE_ID {
		return RID{}, false, nil
	}

	leafID, err := t.findLeafPageID(rootID, key)
	if err != nil {
		return RID{}, false, err
	}

	leaf, err := t.readLeaf(leafID)
	if err != nil {
		return RID{}, false, err
	}

	v, found := leaf.find(key)
	return v, found, nil
}

// Insert adds key -> value, splitting leaf and internal pages as needed
// and growing the tree's height when the root itself splits. Returns
// util.ErrDuplicateKey if key is already present.
func (t *BPlusTree) Insert(key int64, value RID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rootID, ok, err := t.header.GetRootId(t.name)
	if err != nil {
		return err
	}
	if !ok || rootID == disk.INVALID_PAGE_ID {
		return t.startNewTree(key, value)
	}

	leafID, err := t.findLeafPageID(rootID, key)
	if err != nil {
		return err
	}

	leaf, err := t.readLeaf(leafID)
	if err != nil {
		return err
	}

	idx := leaf.insertIdx(key)
	if idx < int(leaf.size) && leaf.keys[idx] == key {
		return fmt.Errorf("%w: key %d", util.ErrDuplicateKey, key)
	}
	leaf.insertAt(idx, key, value)

	if leaf.size < leaf.maxSize {
		return t.writeLeaf(leaf.pageID, leaf)
	}

	t.logger.Printf("index: leaf page %d full, splitting", leaf.pageID)
	return t.splitLeafAndInsertParent(leaf)
}

// Remove deletes key from the tree, redistributing or merging underfull
// pages along the path back to the root. Returns false if key is absent.
func (t *BPlusTree) Remove(key int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rootID, ok, err := t.header.GetRootId(t.name)
	if err != nil {
		return false, err
	}
	if !ok || rootID == disk.INVALID_PAGE_ID {
		return false, nil
	}

	leafID, err := t.findLeafPageID(rootID, key)
	if err != nil {
		return false, err
	}

	leaf, err := t.readLeaf(leafID)
	if err != nil {
		return false, err
	}

	idx := leaf.insertIdx(key)
	if idx >= int(leaf.size) || leaf.keys[idx] != key {
		return false, nil
	}
	leaf.removeAt(idx)

	if leaf.pageID == rootID {
		if leaf.size == 0 {
			if !t.bpm.DeletePage(leaf.pageID) {
				return true, fmt.Errorf("index: could not delete emptied root leaf %d", leaf.pageID)
			}
			return true, t.header.SetRootId(t.name, disk.INVALID_PAGE_ID)
		}
		return true, t.writeLeaf(leaf.pageID, leaf)
	}

	if leaf.size >= minSize(leaf.maxSize) {
		return true, t.writeLeaf(leaf.pageID, leaf)
	}

	return true, t.fixLeafUnderflow(leaf)
}

// startNewTree allocates the first leaf page of a brand-new tree.
func (t *BPlusTree) startNewTree(key int64, value RID) error {
	pageID, _, ok := t.bpm.NewPage()
	if !ok {
		return fmt.Errorf("index: %w", &buffer.NoFrameAvailableError{PageID: disk.INVALID_PAGE_ID})
	}

	leaf := newLeafPage(pageID, disk.INVALID_PAGE_ID, t.leafMaxSize)
	leaf.insertAt(0, key, value)

	if err := t.writeLeaf(pageID, leaf); err != nil {
		return err
	}
	return t.header.SetRootId(t.name, pageID)
}

// splitLeafAndInsertParent splits an overflowed leaf in half by the
// ceiling rule and propagates the new leaf's first key up to the parent.
func (t *BPlusTree) splitLeafAndInsertParent(leaf *leafPage) error {
	newPageID, _, ok := t.bpm.NewPage()
	if !ok {
		return fmt.Errorf("index: %w", &buffer.NoFrameAvailableError{PageID: disk.INVALID_PAGE_ID})
	}

	splitAt := int(ceil(leaf.maxSize))
	sibling := newLeafPage(newPageID, leaf.parentPageID, leaf.maxSize)
	sibling.keys = append(sibling.keys, leaf.keys[splitAt:]...)
	sibling.values = append(sibling.values, leaf.values[splitAt:]...)
	sibling.size = int32(len(sibling.keys))
	sibling.nextPageID = leaf.nextPageID

	leaf.keys = leaf.keys[:splitAt]
	leaf.values = leaf.values[:splitAt]
	leaf.size = int32(splitAt)
	leaf.nextPageID = newPageID

	if err := t.writeLeaf(leaf.pageID, leaf); err != nil {
		return err
	}
	if err := t.writeLeaf(newPageID, sibling); err != nil {
		return err
	}

	return t.insertInParent(leaf.pageID, sibling.keys[0], newPageID, leaf.parentPageID)
}

// insertInParent attaches (key, rightID) to parentID's child list,
// creating a new root if leftID had none, and recursively splitting
// parentID if that insert overflows it.
func (t *BPlusTree) insertInParent(leftID disk.PageID, key int64, rightID disk.PageID, parentID disk.PageID) error {
	if parentID == disk.INVALID_PAGE_ID {
		newRootID, _, ok := t.bpm.NewPage()
		if !ok {
			return fmt.Errorf("index: %w", &buffer.NoFrameAvailableError{PageID: disk.INVALID_PAGE_ID})
		}

		root := newInternalPage(newRootID, disk.INVALID_PAGE_ID, t.internalMaxSize)
		root.keys = append(root.keys, 0, key)
		root.children = append(root.children, leftID, rightID)
		root.size = 2

		if err := t.writeInternal(newRootID, root); err != nil {
			return err
		}
		if err := t.setParent(leftID, newRootID); err != nil {
			return err
		}
		if err := t.setParent(rightID, newRootID); err != nil {
			return err
		}
		return t.header.SetRootId(t.name, newRootID)
	}

	parent, err := t.readInternal(parentID)
	if err != nil {
		return err
	}

	idx := parent.insertIdx(key)
	parent.insertAt(idx, key, rightID)

	if parent.size <= parent.maxSize {
		return t.writeInternal(parentID, parent)
	}

	t.logger.Printf("index: internal page %d full, splitting", parentID)
	return t.splitInternalAndInsertParent(parent)
}

// splitInternalAndInsertParent splits an overflowed internal page, pushing
// the middle key up to the grandparent rather than keeping it in either
// half (an internal page's first key slot carries no separator value).
func (t *BPlusTree) splitInternalAndInsertParent(internalPg *internalPage) error {
	newPageID, _, ok := t.bpm.NewPage()
	if !ok {
		return fmt.Errorf("index: %w", &buffer.NoFrameAvailableError{PageID: disk.INVALID_PAGE_ID})
	}

	splitAt := int(ceil(internalPg.maxSize))
	pushUpKey := internalPg.keys[splitAt]

	sibling := newInternalPage(newPageID, internalPg.parentPageID, internalPg.maxSize)
	sibling.keys = append(sibling.keys, 0)
	sibling.children = append(sibling.children, internalPg.children[splitAt])
	sibling.keys = append(sibling.keys, internalPg.keys[splitAt+1:]...)
	sibling.children = append(sibling.children, internalPg.children[splitAt+1:]...)
	sibling.size = int32(len(sibling.children))

	internalPg.keys = internalPg.keys[:splitAt]
	internalPg.children = internalPg.children[:splitAt]
	internalPg.size = int32(splitAt)

	if err := t.writeInternal(internalPg.pageID, internalPg); err != nil {
		return err
	}
	if err := t.writeInternal(newPageID, sibling); err != nil {
		return err
	}

	for _, child := range sibling.children {
		if err := t.setParent(child, newPageID); err != nil {
			return err
		}
	}

	return t.insertInParent(internalPg.pageID, pushUpKey, newPageID, internalPg.parentPageID)
}

// fixLeafUnderflow redistributes from a sibling if one has spare entries,
// otherwise merges leaf into a sibling and recursively fixes the parent.
func (t *BPlusTree) fixLeafUnderflow(leaf *leafPage) error {
	parent, err := t.readInternal(leaf.parentPageID)
	if err != nil {
		return err
	}
	idx, err := parent.indexOfChild(leaf.pageID)
	if err != nil {
		return err
	}

	if idx > 0 {
		leftID := parent.children[idx-1]
		left, err := t.readLeaf(leftID)
		if err != nil {
			return err
		}
		if left.size > minSize(left.maxSize) {
			n := int(left.size) - 1
			key, val := left.keys[n], left.values[n]
			left.removeAt(n)
			leaf.insertAt(0, key, val)
			parent.keys[idx] = leaf.keys[0]

			if err := t.writeLeaf(leftID, left); err != nil {
				return err
			}
			if err := t.writeLeaf(leaf.pageID, leaf); err != nil {
				return err
			}
			return t.writeInternal(parent.pageID, parent)
		}
	}

	if idx < int(parent.size)-1 {
		rightID := parent.children[idx+1]
		right, err := t.readLeaf(rightID)
		if err != nil {
			return err
		}
		if right.size > minSize(right.maxSize) {
			key, val := right.keys[0], right.values[0]
			right.removeAt(0)
			leaf.insertAt(int(leaf.size), key, val)
			parent.keys[idx+1] = right.keys[0]

			if err := t.writeLeaf(rightID, right); err != nil {
				return err
			}
			if err := t.writeLeaf(leaf.pageID, leaf); err != nil {
				return err
			}
			return t.writeInternal(parent.pageID, parent)
		}
	}

	if idx > 0 {
		leftID := parent.children[idx-1]
		left, err := t.readLeaf(leftID)
		if err != nil {
			return err
		}
		left.keys = append(left.keys, leaf.keys...)
		left.values = append(left.values, leaf.values...)
		left.size += leaf.size
		left.nextPageID = leaf.nextPageID

		if err := t.writeLeaf(leftID, left); err != nil {
			return err
		}
		if !t.bpm.DeletePage(leaf.pageID) {
			return fmt.Errorf("index: could not delete merged leaf %d", leaf.pageID)
		}
		parent.removeAt(idx)
		return t.fixInternalUnderflow(parent)
	}

	rightID := parent.children[idx+1]
	right, err := t.readLeaf(rightID)
	if err != nil {
		return err
	}
	leaf.keys = append(leaf.keys, right.keys...)
	leaf.values = append(leaf.values, right.values...)
	leaf.size += right.size
	leaf.nextPageID = right.nextPageID

	if err := t.writeLeaf(leaf.pageID, leaf); err != nil {
		return err
	}
	if !t.bpm.DeletePage(rightID) {
		return fmt.Errorf("index: could not delete merged leaf %d", rightID)
	}
	parent.removeAt(idx + 1)
	return t.fixInternalUnderflow(parent)
}

// fixInternalUnderflow persists parent if it meets minimum occupancy (or
// is the root), collapses the root if it was left with a single child,
// and otherwise redistributes or merges parent with a sibling.
func (t *BPlusTree) fixInternalUnderflow(parent *internalPage) error {
	if parent.parentPageID == disk.INVALID_PAGE_ID {
		if parent.size == 1 {
			onlyChild := parent.children[0]
			if err := t.setParent(onlyChild, disk.INVALID_PAGE_ID); err != nil {
				return err
			}
			if err := t.header.SetRootId(t.name, onlyChild); err != nil {
				return err
			}
			if !t.bpm.DeletePage(parent.pageID) {
				return fmt.Errorf("index: could not delete collapsed root %d", parent.pageID)
			}
			return nil
		}
		return t.writeInternal(parent.pageID, parent)
	}

	if parent.size >= minSize(parent.maxSize) {
		return t.writeInternal(parent.pageID, parent)
	}

	return t.coalesceOrRedistributeInternal(parent)
}

// coalesceOrRedistributeInternal is fixInternalUnderflow's non-root,
// underfull case: borrow a child from a sibling through the grandparent's
// separator key if one can spare it, otherwise merge with a sibling.
func (t *BPlusTree) coalesceOrRedistributeInternal(ip *internalPage) error {
	gp, err := t.readInternal(ip.parentPageID)
	if err != nil {
		return err
	}
	idx, err := gp.indexOfChild(ip.pageID)
	if err != nil {
		return err
	}

	if idx > 0 {
		leftID := gp.children[idx-1]
		left, err := t.readInternal(leftID)
		if err != nil {
			return err
		}
		if left.size > minSize(left.maxSize) {
			borrowedChild, promotedKey := left.popLast()
			ip.pushFirst(gp.keys[idx], borrowedChild)
			gp.keys[idx] = promotedKey

			if err := t.setParent(borrowedChild, ip.pageID); err != nil {
				return err
			}
			if err := t.writeInternal(leftID, left); err != nil {
				return err
			}
			if err := t.writeInternal(ip.pageID, ip); err != nil {
				return err
			}
			return t.writeInternal(gp.pageID, gp)
		}
	}

	if idx < int(gp.size)-1 {
		rightID := gp.children[idx+1]
		right, err := t.readInternal(rightID)
		if err != nil {
			return err
		}
		if right.size > minSize(right.maxSize) {
			borrowedChild, promotedKey := right.popFirst()
			ip.pushLast(gp.keys[idx+1], borrowedChild)
			gp.keys[idx+1] = promotedKey

			if err := t.setParent(borrowedChild, ip.pageID); err != nil {
				return err
			}
			if err := t.writeInternal(rightID, right); err != nil {
				return err
			}
			if err := t.writeInternal(ip.pageID, ip); err != nil {
				return err
			}
			return t.writeInternal(gp.pageID, gp)
		}
	}

	if idx > 0 {
		leftID := gp.children[idx-1]
		left, err := t.readInternal(leftID)
		if err != nil {
			return err
		}
		sep := gp.keys[idx]
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, ip.keys[1:]...)
		left.children = append(left.children, ip.children...)
		left.size += ip.size

		for _, child := range ip.children {
			if err := t.setParent(child, leftID); err != nil {
				return err
			}
		}
		if err := t.writeInternal(leftID, left); err != nil {
			return err
		}
		if !t.bpm.DeletePage(ip.pageID) {
			return fmt.Errorf("index: could not delete merged internal page %d", ip.pageID)
		}
		gp.removeAt(idx)
		return t.fixInternalUnderflow(gp)
	}

	rightID := gp.children[idx+1]
	right, err := t.readInternal(rightID)
	if err != nil {
		return err
	}
	sep := gp.keys[idx+1]
	ip.keys = append(ip.keys, sep)
	ip.keys = append(ip.keys, right.keys[1:]...)
	ip.children = append(ip.children, right.children...)
	ip.size += right.size

	for _, child := range right.children {
		if err := t.setParent(child, ip.pageID); err != nil {
			return err
		}
	}
	if err := t.writeInternal(ip.pageID, ip); err != nil {
		return err
	}
	if !t.bpm.DeletePage(rightID) {
		return fmt.Errorf("index: could not delete merged internal page %d", rightID)
	}
	gp.removeAt(idx + 1)
	return t.fixInternalUnderflow(gp)
}

// minSize is the fewest entries a non-root page may hold after a removal
// before it must redistribute from or merge with a sibling.
func minSize(maxSize int32) int32 {
	return maxSize / 2
}

// findLeafPageID descends from rootID to the leaf that would hold key,
// pinning and unpinning each page along the way, the leaf included; the
// leaf is returned unpinned.
func (t *BPlusTree) findLeafPageID(rootID disk.PageID, key int64) (disk.PageID, error) {
	pageID := rootID
	for {
		guard, err := t.bpm.ReadPage(pageID)
		if err != nil {
			return disk.INVALID_PAGE_ID, fmt.Errorf("index: descend to page %d: %w", pageID, err)
		}
		data := guard.GetData()
		if readPageType(data) == leafPageType {
			guard.Drop()
			return pageID, nil
		}

		internalPg := decodeInternalPage(data)
		guard.Drop()
		pageID = internalPg.children[internalPg.childIndex(key)]
	}
}

func readPageType(data []byte) pageType {
	return pageType(binary.LittleEndian.Uint32(data[0:4]))
}

func (t *BPlusTree) readLeaf(pageID disk.PageID) (*leafPage, error) {
	guard, err := t.bpm.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("index: read leaf %d: %w", pageID, err)
	}
	defer guard.Drop()
	return decodeLeafPage(guard.GetData()), nil
}

func (t *BPlusTree) readInternal(pageID disk.PageID) (*internalPage, error) {
	guard, err := t.bpm.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("index: read internal page %d: %w", pageID, err)
	}
	defer guard.Drop()
	return decodeInternalPage(guard.GetData()), nil
}

func (t *BPlusTree) writeLeaf(pageID disk.PageID, leaf *leafPage) error {
	guard, err := t.bpm.WritePage(pageID)
	if err != nil {
		return fmt.Errorf("index: write leaf %d: %w", pageID, err)
	}
	defer guard.Drop()
	leaf.encode(*guard.GetDataMut())
	return nil
}

func (t *BPlusTree) writeInternal(pageID disk.PageID, internalPg *internalPage) error {
	guard, err := t.bpm.WritePage(pageID)
	if err != nil {
		return fmt.Errorf("index: write internal page %d: %w", pageID, err)
	}
	defer guard.Drop()
	internalPg.encode(*guard.GetDataMut())
	return nil
}

func (t *BPlusTree) setParent(pageID, parentID disk.PageID) error {
	guard, err := t.bpm.WritePage(pageID)
	if err != nil {
		return fmt.Errorf("index: set parent of %d: %w", pageID, err)
	}
	defer guard.Drop()
	binary.LittleEndian.PutUint32((*guard.GetDataMut())[16:20], uint32(parentID))
	return nil
}
