package buffer

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/jobala/petro/storage/disk"
	"github.com/stretchr/testify/assert"
)

func TestBufferPoolManager(t *testing.T) {
	t.Run("reads a page from disk", func(t *testing.T) {
		file := createDbFile(t)

		replacer := NewLrukReplacer(5, 2)
		diskMgr := disk.NewManager(file)
		scheduler := disk.NewScheduler(diskMgr)
		bufferMgr := NewBufferpoolManager(5, replacer, scheduler)

		pageID := disk.PageID(1)
		data := make([]byte, disk.PAGE_SIZE)
		copy(data, []byte("hello, world!"))
		syncWrite(pageID, data, scheduler)

		got, ok := bufferMgr.FetchPage(pageID)
		assert.True(t, ok)
		assert.Equal(t, data, got)
		assert.Equal(t, data, bufferMgr.frames[0].data)
	})

	t.Run("evicts the page with the largest backward k-distance", func(t *testing.T) {
		file := createDbFile(t)

		replacer := NewLrukReplacer(2, 2)
		diskMgr := disk.NewManager(file)
		scheduler := disk.NewScheduler(diskMgr)
		bufferMgr := NewBufferpoolManager(2, replacer, scheduler)

		content := []string{"1", "2", "3"}
		for i, d := range content {
			data := make([]byte, disk.PAGE_SIZE)
			copy(data, []byte(d))
			syncWrite(disk.PageID(i+1), data, scheduler)
		}

		// access page 2 many times
		for j := 0; j < 5; j++ {
			_, ok := bufferMgr.FetchPage(2)
			assert.True(t, ok)
			bufferMgr.UnpinPage(2, false)
		}

		// access page 1 to make page 2 least recently used
		_, ok := bufferMgr.FetchPage(1)
		assert.True(t, ok)
		bufferMgr.UnpinPage(1, false)

		// accessing page 3 evicts page 2: with k = 2 its second most recent
		// access (from the loop above) is older than page 1's
		for i := range content {
			data, ok := bufferMgr.FetchPage(disk.PageID(i + 1))
			assert.True(t, ok)
			assert.Equal(t, content[i], string(bytes.Trim(data, "\x00")))
			bufferMgr.UnpinPage(disk.PageID(i+1), false)
		}

		assert.Equal(t, disk.PageID(3), bufferMgr.frames[0].pageId)
		assert.Equal(t, disk.PageID(1), bufferMgr.frames[1].pageId)

		_, ok = bufferMgr.pageTable.Find(2)
		assert.False(t, ok)
	})

	t.Run("writes a page to disk", func(t *testing.T) {
		file := createDbFile(t)

		replacer := NewLrukReplacer(5, 2)
		diskMgr := disk.NewManager(file)
		scheduler := disk.NewScheduler(diskMgr)
		bufferMgr := NewBufferpoolManager(5, replacer, scheduler)

		pageID := disk.PageID(1)
		data := make([]byte, disk.PAGE_SIZE)
		copy(data, []byte("hello, world!"))

		got, ok := bufferMgr.FetchPage(pageID)
		assert.True(t, ok)
		copy(got, data)
		assert.True(t, bufferMgr.UnpinPage(pageID, true))

		assert.Equal(t, data, bufferMgr.frames[0].data)

		assert.True(t, bufferMgr.FlushPage(pageID))
		res := syncRead(pageID, scheduler)
		assert.Equal(t, data, res)
	})

	t.Run("dirty evicted pages are flushed to disk", func(t *testing.T) {
		file := createDbFile(t)

		replacer := NewLrukReplacer(2, 2)
		diskMgr := disk.NewManager(file)
		scheduler := disk.NewScheduler(diskMgr)
		bufferMgr := NewBufferpoolManager(2, replacer, scheduler)

		content := []string{"1", "2", "3"}
		for i, d := range content {
			data := make([]byte, disk.PAGE_SIZE)
			copy(data, []byte(d))

			got, ok := bufferMgr.FetchPage(disk.PageID(i + 1))
			assert.True(t, ok)
			copy(got, data)
			assert.True(t, bufferMgr.UnpinPage(disk.PageID(i+1), true))
		}

		res := syncRead(1, scheduler)
		assert.Equal(t, content[0], string(bytes.Trim(res, "\x00")))
	})

	t.Run("can read and write", func(t *testing.T) {
		file := createDbFile(t)

		replacer := NewLrukReplacer(2, 2)
		diskMgr := disk.NewManager(file)
		scheduler := disk.NewScheduler(diskMgr)
		bufferMgr := NewBufferpoolManager(2, replacer, scheduler)

		content := []string{"1", "2", "3"}
		for i, d := range content {
			data := make([]byte, disk.PAGE_SIZE)
			copy(data, []byte(d))
			got, ok := bufferMgr.FetchPage(disk.PageID(i + 1))
			assert.True(t, ok)
			copy(got, data)
			assert.True(t, bufferMgr.UnpinPage(disk.PageID(i+1), true))
		}

		for i, data := range content {
			got, ok := bufferMgr.FetchPage(disk.PageID(i + 1))
			assert.True(t, ok)
			assert.Equal(t, data, string(bytes.Trim(got, "\x00")))
			bufferMgr.UnpinPage(disk.PageID(i+1), false)
		}
	})

	t.Run("pin discipline matches the seed scenario", func(t *testing.T) {
		file := createDbFile(t)

		replacer := NewLrukReplacer(1, 2)
		diskMgr := disk.NewManager(file)
		scheduler := disk.NewScheduler(diskMgr)
		bufferMgr := NewBufferpoolManager(1, replacer, scheduler)

		p0, _, ok := bufferMgr.NewPage()
		assert.True(t, ok)

		// pool has a single frame and it is pinned by p0: no victim exists.
		_, _, ok = bufferMgr.NewPage()
		assert.False(t, ok)

		assert.True(t, bufferMgr.UnpinPage(p0, false))

		// p0 is now evictable, so allocating p1 succeeds by evicting it.
		p1, _, ok := bufferMgr.NewPage()
		assert.True(t, ok)
		assert.NotEqual(t, p0, p1)

		assert.True(t, bufferMgr.UnpinPage(p1, false))

		// p1 is evictable and not dirty, so fetching p0 back succeeds.
		_, ok = bufferMgr.FetchPage(p0)
		assert.True(t, ok)
	})
}

func createDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}

	if err := os.Truncate(file.Name(), disk.PAGE_SIZE*16); err != nil {
		panic(err)
	}
	return file
}

func syncWrite(pageID disk.PageID, data []byte, scheduler *disk.Scheduler) {
	<-scheduler.Schedule(disk.NewRequest(pageID, data, true))
}

func syncRead(pageID disk.PageID, scheduler *disk.Scheduler) []byte {
	resp := <-scheduler.Schedule(disk.NewRequest(pageID, nil, false))
	return resp.Data
}
