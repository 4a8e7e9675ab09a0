// Package disk implements random-access page storage on top of an *os.File,
// plus an async scheduler and an optional read-through byte cache in front of it.
package disk

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	// PAGE_SIZE is the fixed size, in bytes, of every page on disk and in memory.
	PAGE_SIZE = 4096

	// INVALID_PAGE_ID is the sentinel page id meaning "no page".
	INVALID_PAGE_ID PageID = -1

	// HEADER_PAGE_ID is the fixed page id of the root-page-id dictionary.
	HEADER_PAGE_ID PageID = 0

	defaultPageCapacity = 16
)

// PageID identifies a page across the lifetime of a database file.
type PageID int32

// Manager owns a single database file and maps page ids to byte offsets
// within it, growing the file on demand.
type Manager struct {
	mu sync.Mutex

	dbFile       *os.File
	pages        map[PageID]int64
	freeSlots    []int64
	pageCapacity int64

	cache  *ristretto.Cache[PageID, []byte]
	logger *log.Logger
}

// NewManager creates a Manager over an already-opened database file.
func NewManager(file *os.File) *Manager {
	return &Manager{
		dbFile:       file,
		pageCapacity: defaultPageCapacity,
		freeSlots:    []int64{},
		pages:        map[PageID]int64{},
		logger:       log.Default(),
	}
}

// NewManagerWithCache creates a Manager backed by a read-through ristretto
// byte cache. The cache sits below the buffer pool: it only pays for itself
// when a caller reads pages directly through the DiskManager, bypassing the
// BPM's own whole-page cache (e.g. header-page bootstrap, or tests that
// exercise the disk layer in isolation).
func NewManagerWithCache(file *os.File, cache *ristretto.Cache[PageID, []byte]) *Manager {
	dm := NewManager(file)
	dm.cache = cache
	return dm
}

// SetLogger overrides the default logger.
func (dm *Manager) SetLogger(l *log.Logger) {
	dm.logger = l
}

func (dm *Manager) writePage(pageID PageID, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset, ok := dm.pages[pageID]
	if !ok {
		var err error
		offset, err = dm.allocatePage()
		if err != nil {
			return fmt.Errorf("disk: allocate page %d: %w", pageID, err)
		}
		dm.pages[pageID] = offset
	}

	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		return fmt.Errorf("disk: write page %d at offset %d: %w", pageID, offset, err)
	}

	if dm.cache != nil {
		dm.cache.Del(pageID)
	}

	return nil
}

func (dm *Manager) readPage(pageID PageID) ([]byte, error) {
	if dm.cache != nil {
		if cached, found := dm.cache.Get(pageID); found {
			buf := make([]byte, PAGE_SIZE)
			copy(buf, cached)
			return buf, nil
		}
	}

	dm.mu.Lock()
	offset, ok := dm.pages[pageID]
	if !ok {
		var err error
		offset, err = dm.allocatePage()
		if err != nil {
			dm.mu.Unlock()
			return nil, fmt.Errorf("disk: allocate page %d: %w", pageID, err)
		}
		dm.pages[pageID] = offset
	}
	dm.mu.Unlock()

	buf := make([]byte, PAGE_SIZE)
	if _, err := dm.dbFile.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("disk: read page %d at offset %d: %w", pageID, offset, err)
	}

	if dm.cache != nil {
		cp := make([]byte, PAGE_SIZE)
		copy(cp, buf)
		dm.cache.Set(pageID, cp, PAGE_SIZE)
	}

	return buf, nil
}

func (dm *Manager) deletePage(pageID PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if offset, ok := dm.pages[pageID]; ok {
		dm.freeSlots = append(dm.freeSlots, offset)
		delete(dm.pages, pageID)
	}

	if dm.cache != nil {
		dm.cache.Del(pageID)
	}
}

// DeletePage releases the on-disk slot held by pageID for reuse.
func (dm *Manager) DeletePage(pageID PageID) {
	dm.deletePage(pageID)
}

// allocatePage reserves a byte offset for a new page, growing the backing
// file when the free list and existing extent are both exhausted. Callers
// must hold dm.mu.
func (dm *Manager) allocatePage() (int64, error) {
	if len(dm.freeSlots) > 0 {
		offset := dm.freeSlots[0]
		dm.freeSlots = dm.freeSlots[1:]
		return offset, nil
	}

	if int64(len(dm.pages))+1 > dm.pageCapacity {
		dm.pageCapacity *= 2
		if err := os.Truncate(dm.dbFile.Name(), dm.pageCapacity*PAGE_SIZE); err != nil {
			return -1, fmt.Errorf("disk: resize db file: %w", err)
		}
		dm.logger.Printf("disk: grew file capacity to %d pages", dm.pageCapacity)
	}

	return int64(len(dm.pages)) * PAGE_SIZE, nil
}
