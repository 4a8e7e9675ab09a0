package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/jobala/petro/storage/disk"
)

// frame is one slot of the buffer pool: a fixed-size byte buffer plus the
// bookkeeping the pool manager needs to decide when it may be reused.
type frame struct {
	mu sync.RWMutex

	id     int
	data   []byte
	pins   atomic.Int32
	dirty  bool
	pageId disk.PageID
}

func newFrame(id int) *frame {
	return &frame{id: id, data: make([]byte, disk.PAGE_SIZE), pageId: disk.INVALID_PAGE_ID}
}

func (f *frame) pin() {
	f.pins.Add(1)
}

func (f *frame) unpin() int32 {
	return f.pins.Add(-1)
}

func (f *frame) pinCount() int32 {
	return f.pins.Load()
}

func (f *frame) reset() {
	f.dirty = false
	f.pins.Store(0)
	f.pageId = disk.INVALID_PAGE_ID
	for i := range f.data {
		f.data[i] = 0
	}
}
