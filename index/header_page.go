package index

import (
	"fmt"

	"github.com/jobala/petro/buffer"
	"github.com/jobala/petro/storage/disk"
	"github.com/jobala/petro/util"
)

// headerRecord is the msgpack-encoded payload of the header page: a
// dictionary from index name to its tree's root page id. Unlike leaf and
// internal pages this page has no bit-exact layout requirement, so it is
// serialized the teacher's way, via msgpack.
type headerRecord struct {
	Roots map[string]disk.PageID
}

// headerPage reads and writes the root-id dictionary living at
// HeaderPageID, guarding every access with the buffer pool's pin discipline.
type headerPage struct {
	bpm *buffer.BufferpoolManager
}

func newHeaderPage(bpm *buffer.BufferpoolManager) *headerPage {
	return &headerPage{bpm: bpm}
}

func (h *headerPage) load() (headerRecord, error) {
	guard, err := h.bpm.ReadPage(HeaderPageID)
	if err != nil {
		return headerRecord{}, fmt.Errorf("index: load header page: %w", err)
	}
	defer guard.Drop()

	data := guard.GetData()
	rec, err := util.ToStruct[headerRecord](data)
	if err != nil {
		if isZeroed(data) {
			return headerRecord{Roots: map[string]disk.PageID{}}, nil
		}
		return headerRecord{}, fmt.Errorf("index: decode header page: %w", err)
	}
	if rec.Roots == nil {
		rec.Roots = map[string]disk.PageID{}
	}
	return rec, nil
}

// isZeroed reports whether data is untouched page storage: a page that has
// never been written holds all-zero bytes, which is not valid msgpack and
// must be treated as "no records yet" rather than a decode failure.
func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func (h *headerPage) save(rec headerRecord) error {
	guard, err := h.bpm.WritePage(HeaderPageID)
	if err != nil {
		return fmt.Errorf("index: save header page: %w", err)
	}
	defer guard.Drop()

	encoded, err := util.ToByteSlice(rec)
	if err != nil {
		return fmt.Errorf("index: encode header page: %w", err)
	}
	copy(*guard.GetDataMut(), encoded)
	return nil
}

// GetRootId returns the root page id registered for name, and false if no
// tree by that name has been created yet.
func (h *headerPage) GetRootId(name string) (disk.PageID, bool, error) {
	rec, err := h.load()
	if err != nil {
		return disk.INVALID_PAGE_ID, false, err
	}
	id, ok := rec.Roots[name]
	return id, ok, nil
}

// SetRootId registers rootID as the root page for name, overwriting any
// previous value.
func (h *headerPage) SetRootId(name string, rootID disk.PageID) error {
	rec, err := h.load()
	if err != nil {
		return err
	}
	rec.Roots[name] = rootID
	return h.save(rec)
}
