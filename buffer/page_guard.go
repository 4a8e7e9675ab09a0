package buffer

import "github.com/jobala/petro/storage/disk"

// PageGuard borrows a page's bytes from a BufferpoolManager between
// Fetch/New and Drop, matching the pin discipline the pool manager expects
// from callers: Drop must be called exactly once per guard.
type PageGuard struct {
	bpm    *BufferpoolManager
	pageID disk.PageID
	data   []byte
	dirty  bool
}

// GetData returns a read-only view of the page's bytes.
func (g *PageGuard) GetData() []byte {
	return g.data
}

// GetDataMut returns a mutable view of the page's bytes and marks the page
// dirty for the eventual Drop/Unpin.
func (g *PageGuard) GetDataMut() *[]byte {
	g.dirty = true
	return &g.data
}

// Drop unpins the page, propagating its dirty flag to the pool manager.
func (g *PageGuard) Drop() {
	if g == nil || g.bpm == nil {
		return
	}
	g.bpm.UnpinPage(g.pageID, g.dirty)
	g.bpm = nil
}

// ReadPage fetches pageID for read-only access.
func (b *BufferpoolManager) ReadPage(pageID disk.PageID) (*PageGuard, error) {
	data, ok := b.FetchPage(pageID)
	if !ok {
		return &PageGuard{}, &NoFrameAvailableError{PageID: pageID}
	}
	return &PageGuard{bpm: b, pageID: pageID, data: data}, nil
}

// WritePage fetches pageID for mutation; the guard is marked dirty
// unconditionally since the caller asked to write.
func (b *BufferpoolManager) WritePage(pageID disk.PageID) (*PageGuard, error) {
	data, ok := b.FetchPage(pageID)
	if !ok {
		return &PageGuard{}, &NoFrameAvailableError{PageID: pageID}
	}
	return &PageGuard{bpm: b, pageID: pageID, data: data, dirty: true}, nil
}

// NoFrameAvailableError is returned when every frame in the pool is pinned
// and no eviction victim exists. ReadPage and WritePage also return it when
// FetchPage fails because the disk read failed.
type NoFrameAvailableError struct {
	PageID disk.PageID
}

func (e *NoFrameAvailableError) Error() string {
	return "buffer: no frame available to fetch page"
}
