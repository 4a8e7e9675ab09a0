// Package buffer implements the buffer pool manager, the LRU-K replacer
// that backs its eviction policy, and a thin page-guard convenience layer
// on top of the pool manager's explicit pin/unpin API.
package buffer

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/jobala/petro/hashtable"
	"github.com/jobala/petro/storage/disk"
)

// Replacer is the victim-selection policy consumed by BufferPoolManager.
type Replacer interface {
	RecordAccess(frameId int)
	SetEvictable(frameId int, evictable bool)
	Evict() (int, bool)
	Remove(frameId int) error
	Size() int
}

// BufferpoolManager owns a fixed array of frames and brokers all page I/O
// through a DiskScheduler, enforcing pin/dirty/flush discipline. A single
// mutex serializes every public entry point; a frame's own bytes may be
// read or written by the caller only between a successful Fetch/New and
// its matching Unpin.
type BufferpoolManager struct {
	mu sync.Mutex

	frames    []*frame
	freeList  []int
	pageTable *hashtable.Table[disk.PageID, int]
	replacer  Replacer
	scheduler *disk.Scheduler

	nextPageID atomic.Int32
	logger     *log.Logger
}

// NewBufferpoolManager creates a pool of size frames backed by replacer for
// eviction and scheduler for disk I/O. The page table is an extendible
// hash table keyed by page id, per the architecture's page_id->frame_id map.
func NewBufferpoolManager(size int, replacer Replacer, scheduler *disk.Scheduler) *BufferpoolManager {
	frames := make([]*frame, size)
	freeList := make([]int, size)
	for i := 0; i < size; i++ {
		frames[i] = newFrame(i)
		freeList[i] = i
	}

	return &BufferpoolManager{
		frames:    frames,
		freeList:  freeList,
		pageTable: hashtable.New[disk.PageID, int](4, func(id disk.PageID) uint64 { return hashtable.IdentityHashInt32(int32(id)) }),
		replacer:  replacer,
		scheduler: scheduler,
		logger:    log.Default(),
	}
}

// SetLogger overrides the default logger.
func (bpm *BufferpoolManager) SetLogger(l *log.Logger) {
	bpm.logger = l
}

// NewPage allocates a fresh page id, binds it to a free or evicted frame,
// pins it, zeroes its buffer, and writes the blank page to disk. ok is
// false only when every frame is pinned.
func (bpm *BufferpoolManager) NewPage() (pageID disk.PageID, data []byte, ok bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	f, acquired := bpm.acquireFrame()
	if !acquired {
		return disk.INVALID_PAGE_ID, nil, false
	}

	pageID = bpm.allocatePageID()
	f.reset()
	f.pageId = pageID
	f.pin()

	bpm.pageTable.Insert(pageID, f.id)
	bpm.replacer.RecordAccess(f.id)
	bpm.replacer.SetEvictable(f.id, false)

	if err := bpm.syncWrite(pageID, f.data); err != nil {
		bpm.logger.Printf("buffer: new page %d: write-through failed: %v", pageID, err)
	}

	bpm.logger.Printf("buffer: new page %d bound to frame %d", pageID, f.id)
	return pageID, f.data, true
}

// FetchPage returns the data for pageID, pinning it. If the page is not
// already resident it is brought in via a free or evicted frame. ok is
// false when all frames are pinned and no victim exists, or when the disk
// read fails.
func (bpm *BufferpoolManager) FetchPage(pageID disk.PageID) (data []byte, ok bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, resident := bpm.pageTable.Find(pageID); resident {
		f := bpm.frames[frameID]
		f.pin()
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		return f.data, true
	}

	f, acquired := bpm.acquireFrame()
	if !acquired {
		return nil, false
	}

	f.reset()
	raw, err := bpm.syncRead(pageID)
	if err != nil {
		bpm.logger.Printf("buffer: fetch page %d: read failed: %v", pageID, err)
		bpm.freeList = append(bpm.freeList, f.id)
		return nil, false
	}
	copy(f.data, raw)
	f.pageId = pageID
	f.pin()

	bpm.pageTable.Insert(pageID, f.id)
	bpm.replacer.RecordAccess(f.id)
	bpm.replacer.SetEvictable(f.id, false)

	bpm.logger.Printf("buffer: fetched page %d into frame %d", pageID, f.id)
	return f.data, true
}

// UnpinPage decrements pageID's pin count and ORs in isDirty. When the pin
// count reaches zero the frame becomes evictable. Returns false if the
// page is not resident or already unpinned.
func (bpm *BufferpoolManager) UnpinPage(pageID disk.PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, resident := bpm.pageTable.Find(pageID)
	if !resident {
		return false
	}

	f := bpm.frames[frameID]
	if f.pinCount() <= 0 {
		return false
	}

	if isDirty {
		f.dirty = true
	}

	if f.unpin() == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}

	return true
}

// FlushPage writes pageID's frame unconditionally and clears its dirty
// flag. False if the page is not resident.
func (bpm *BufferpoolManager) FlushPage(pageID disk.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, resident := bpm.pageTable.Find(pageID)
	if !resident {
		return false
	}

	bpm.flush(bpm.frames[frameID])
	return true
}

// FlushAllPages flushes every resident allocated page.
func (bpm *BufferpoolManager) FlushAllPages() {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for _, f := range bpm.frames {
		if f.pageId != disk.INVALID_PAGE_ID {
			bpm.flush(f)
		}
	}
}

// DeletePage removes pageID from the pool. Refuses (returns false) if the
// page is resident and pinned. Returns true if the page was not resident.
func (bpm *BufferpoolManager) DeletePage(pageID disk.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, resident := bpm.pageTable.Find(pageID)
	if !resident {
		return true
	}

	f := bpm.frames[frameID]
	if f.pinCount() > 0 {
		return false
	}

	_ = bpm.replacer.Remove(frameID)
	bpm.pageTable.Remove(pageID)
	f.reset()
	bpm.freeList = append(bpm.freeList, frameID)
	bpm.scheduler.DeletePage(pageID)

	return true
}

// acquireFrame returns a free frame if one exists, otherwise evicts a
// victim per the replacer policy, flushing it first if dirty. Callers must
// hold bpm.mu.
func (bpm *BufferpoolManager) acquireFrame() (*frame, bool) {
	if len(bpm.freeList) > 0 {
		id := bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return bpm.frames[id], true
	}

	victimID, ok := bpm.replacer.Evict()
	if !ok {
		return nil, false
	}

	victim := bpm.frames[victimID]
	if victim.dirty {
		bpm.flush(victim)
	}
	bpm.pageTable.Remove(victim.pageId)

	return victim, true
}

func (bpm *BufferpoolManager) flush(f *frame) {
	if f.pageId == disk.INVALID_PAGE_ID {
		return
	}
	if err := bpm.syncWrite(f.pageId, f.data); err != nil {
		bpm.logger.Printf("buffer: flush page %d: %v", f.pageId, err)
		return
	}
	f.dirty = false
}

// allocatePageID hands out page ids from a monotonic counter starting just
// past disk.HEADER_PAGE_ID, so the fixed header page is never reallocated.
func (bpm *BufferpoolManager) allocatePageID() disk.PageID {
	return disk.HEADER_PAGE_ID + disk.PageID(bpm.nextPageID.Add(1))
}

func (bpm *BufferpoolManager) syncWrite(pageID disk.PageID, data []byte) error {
	resp := <-bpm.scheduler.Schedule(disk.NewRequest(pageID, data, true))
	if !resp.Success {
		return fmt.Errorf("buffer: disk write failed for page %d: %w", pageID, resp.Err)
	}
	return nil
}

func (bpm *BufferpoolManager) syncRead(pageID disk.PageID) ([]byte, error) {
	resp := <-bpm.scheduler.Schedule(disk.NewRequest(pageID, nil, false))
	if !resp.Success {
		return nil, fmt.Errorf("buffer: disk read failed for page %d: %w", pageID, resp.Err)
	}
	return resp.Data, nil
}
